// Package rbac implements the core authorization model: the role
// inheritance graph, the grant lifecycle, permission resolution, and the
// expiry sweep.
//
// # Overview
//
// Roles form a single-parent inheritance graph per tenant, cycle-checked
// on every re-parent and capped at MaxChainDepth hops. Grants tie roles
// to permissions and users to roles, each optionally bounded to a
// half-open [from, to) window; nil bounds are unbounded.
//
// Resolution walks each assigned role's chain and collects every grant
// effective at the requested instant. When several grants carry the same
// permission code, the highest role level wins, with ties broken by chain
// distance and then row id. Disabled or soft-deleted roles end their
// chain early, so a broken link fails closed.
//
// Every mutation runs in a single transaction together with its audit
// record, so the trail can never drift from the data it describes.
package rbac
