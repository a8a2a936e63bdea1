// Package store is the code store: the persisted rows that make up a plugin
// (hooks, event listeners, controllers, widgets, entities, migrations) plus
// the plugin row itself and the audit log.
//
// Every row is scoped to a tenant and a plugin, and every repository method
// takes the tenant id explicitly. There is no API that can read or write
// across tenants. The store holds no runtime logic; lifecycle decisions live
// in the manager package and migration execution in the schema package.
package store
