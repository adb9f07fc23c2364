// Package models defines the core domain models for rent reconciliation.
//
// # Models
//
//   - Transaction: canonical inbound payment signal, whatever channel it came from
//   - Landlord, Unit, Tenant: the ownership snapshot the matcher searches
//   - Payment: committed financial event created from a matched Transaction
//   - Balance: one ledger row per unit per calendar month
//   - PushRequest: an initiated push payment awaiting its asynchronous callback
//   - UnattributedPayload: inbound money no landlord could be resolved for
//
// # Design Principles
//
// 1. **Landlord scoping**: every entity carries its LandlordID; nothing is matched across landlords
// 2. **Money is decimal**: amounts are shopspring decimals, never floats
// 3. **Avoid circular references**: use ID strings instead of pointers for relationships
// 4. **Signals are retained**: parse and match failures are statuses, not discarded rows
package models
