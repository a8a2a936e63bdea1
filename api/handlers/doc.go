// Package handlers implements the admin HTTP endpoints: plugin lifecycle,
// entity migrations, export/import, and health probes. All handlers write
// the shared Response envelope and scope every operation by the
// X-Tenant-ID header.
package handlers
