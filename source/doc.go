// Package source fetches user and group records from external identity
// sources: a cloud IdP management API paged through _links.next, or a custom
// HTTP endpoint returning a JSON collection.
package source
