// Package core holds the identity import domain: connection and task
// entities, the mapping compiler and mapper, validation, matching, the import
// executor and the service that drives them. Adapters depend on core; core
// does not depend on any concrete source, store or transport.
package core
