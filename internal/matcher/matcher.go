// Package matcher scores a transaction against a landlord's units and tenants.
//
// Matching is layered. A unit reference found in the payment reference is
// the strongest signal; tenant names and phone numbers are fallbacks for
// payers who omit or garble it. A later layer only replaces an earlier result
// when its confidence is strictly higher.
package matcher

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/mmynk/rentrecon/internal/models"
	"github.com/mmynk/rentrecon/internal/phone"
)

// Confidence levels assigned by each layer.
const (
	ConfidenceUnitRef         = 90
	ConfidenceUnitRefOccupied = 95
	ConfidenceNameBase        = 70
	ConfidenceNamePerWord     = 10
	ConfidenceNameMax         = 85
	ConfidencePhone           = 75

	// nameLayerCeiling and phoneLayerCeiling gate the fallback layers: they
	// only run while the best confidence so far is below the ceiling.
	nameLayerCeiling  = 80
	phoneLayerCeiling = 70

	minNameWordLen = 3
)

// Result is the best match found for a transaction. A zero Confidence means
// nothing matched and the other fields are empty.
type Result struct {
	UnitID      string `json:"unitId,omitempty"`
	TenantID    string `json:"tenantId,omitempty"`
	Confidence  int    `json:"confidence"`
	Reason      string `json:"reason,omitempty"`
	MatchedName string `json:"matchedName,omitempty"`
}

// Matched reports whether any layer produced a match.
func (r Result) Matched() bool {
	return r.Confidence > 0
}

// Match finds the best unit and tenant for tx among the given snapshot.
// Units and tenants that do not belong to tx's landlord are ignored.
// Iteration order of units and tenants decides ties: the first match stands.
func Match(tx *models.Transaction, tenants []*models.Tenant, units []*models.Unit) Result {
	units = ownedUnits(tx.LandlordID, units)
	tenants = ownedTenants(tx.LandlordID, tenants)

	var best Result

	if r, ok := matchUnitReference(tx, tenants, units); ok {
		best = r
	}

	if best.Confidence < nameLayerCeiling {
		if r, ok := matchName(tx, tenants); ok && r.Confidence > best.Confidence {
			best = r
		}
	}

	if best.Confidence < phoneLayerCeiling {
		if r, ok := matchPhone(tx, tenants); ok && r.Confidence > best.Confidence {
			best = r
		}
	}

	return best
}

func matchUnitReference(tx *models.Transaction, tenants []*models.Tenant, units []*models.Unit) (Result, bool) {
	ref := strings.ToLower(tx.UnitReference)
	if strings.TrimSpace(ref) == "" {
		return Result{}, false
	}

	for _, u := range units {
		unitRef := strings.ToLower(strings.TrimSpace(u.Reference))
		if unitRef == "" || !strings.Contains(ref, unitRef) {
			continue
		}

		r := Result{
			UnitID:     u.ID,
			Confidence: ConfidenceUnitRef,
			Reason:     fmt.Sprintf("unit reference %q found in payment reference", u.Reference),
		}
		if occupant := occupantOf(u.ID, tenants); occupant != nil {
			r.TenantID = occupant.ID
			r.MatchedName = occupant.Name
			r.Confidence = ConfidenceUnitRefOccupied
			r.Reason += fmt.Sprintf(", occupied by %s", occupant.Name)
		}
		return r, true
	}

	return Result{}, false
}

func matchName(tx *models.Transaction, tenants []*models.Tenant) (Result, bool) {
	text := strings.ToLower(tx.PayerName + " " + tx.UnitReference)
	if strings.TrimSpace(text) == "" {
		return Result{}, false
	}

	var (
		best  Result
		found bool
	)
	for _, tenant := range tenants {
		words := strings.Fields(strings.ToLower(tenant.Name))
		if len(words) == 0 {
			continue
		}

		required := 2
		if len(words) == 1 {
			required = 1
		}

		count := 0
		for _, w := range words {
			if utf8.RuneCountInString(w) >= minNameWordLen && strings.Contains(text, w) {
				count++
			}
		}
		if count < required {
			continue
		}

		confidence := min(ConfidenceNameBase+ConfidenceNamePerWord*count, ConfidenceNameMax)
		if found && confidence <= best.Confidence {
			continue
		}

		best = Result{
			UnitID:      tenant.UnitID,
			TenantID:    tenant.ID,
			Confidence:  confidence,
			Reason:      fmt.Sprintf("payer name matched %d of %d words of %s", count, len(words), tenant.Name),
			MatchedName: tenant.Name,
		}
		found = true
	}

	return best, found
}

func matchPhone(tx *models.Transaction, tenants []*models.Tenant) (Result, bool) {
	text := tx.SearchableText()
	if text == "" {
		return Result{}, false
	}

	for _, tenant := range tenants {
		for _, number := range []string{tenant.Phone, tenant.SecondaryPhone} {
			last9 := phone.Last9(number)
			if last9 == "" || !strings.Contains(text, last9) {
				continue
			}
			return Result{
				UnitID:      tenant.UnitID,
				TenantID:    tenant.ID,
				Confidence:  ConfidencePhone,
				Reason:      fmt.Sprintf("payer phone matches %s", tenant.Name),
				MatchedName: tenant.Name,
			}, true
		}
	}

	return Result{}, false
}

func occupantOf(unitID string, tenants []*models.Tenant) *models.Tenant {
	for _, t := range tenants {
		if t.UnitID == unitID {
			return t
		}
	}
	return nil
}

func ownedUnits(landlordID string, units []*models.Unit) []*models.Unit {
	out := make([]*models.Unit, 0, len(units))
	for _, u := range units {
		if u != nil && u.LandlordID == landlordID {
			out = append(out, u)
		}
	}
	return out
}

func ownedTenants(landlordID string, tenants []*models.Tenant) []*models.Tenant {
	out := make([]*models.Tenant, 0, len(tenants))
	for _, t := range tenants {
		if t != nil && t.LandlordID == landlordID {
			out = append(out, t)
		}
	}
	return out
}
