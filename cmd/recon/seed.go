package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/shopspring/decimal"

	"github.com/mmynk/rentrecon/internal/models"
	"github.com/mmynk/rentrecon/internal/storage"
)

// fixtures is the seed file layout. Tenants name their unit by reference.
type fixtures struct {
	Landlords []landlordFixture `json:"landlords"`
}

type landlordFixture struct {
	Name       string          `json:"name"`
	ShortCodes []string        `json:"shortCodes"`
	Units      []unitFixture   `json:"units"`
	Tenants    []tenantFixture `json:"tenants"`
}

type unitFixture struct {
	Reference   string           `json:"reference"`
	MonthlyRent decimal.Decimal  `json:"monthlyRent"`
	Occupancy   models.Occupancy `json:"occupancy"`
}

type tenantFixture struct {
	Name           string `json:"name"`
	Phone          string `json:"phone"`
	SecondaryPhone string `json:"secondaryPhone"`
	Unit           string `json:"unit"`
}

type seeded struct {
	LandlordID string            `json:"landlordId"`
	Name       string            `json:"name"`
	Units      map[string]string `json:"units"`
	Tenants    map[string]string `json:"tenants"`
}

// seedStore is the subset of storage.Store that seeding writes to.
type seedStore interface {
	CreateLandlord(ctx context.Context, landlord *models.Landlord) error
	MapShortCode(ctx context.Context, shortCode, landlordID string) error
	CreateUnit(ctx context.Context, unit *models.Unit) error
	CreateTenant(ctx context.Context, tenant *models.Tenant) error
}

var _ seedStore = storage.Store(nil)

func runSeed(ctx context.Context, store seedStore, args []string, out io.Writer) error {
	fs := flag.NewFlagSet("seed", flag.ContinueOnError)
	file := fs.String("file", "", "fixtures JSON file")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *file == "" {
		return errors.New("-file is required")
	}

	raw, err := os.ReadFile(*file)
	if err != nil {
		return fmt.Errorf("failed to read fixtures: %w", err)
	}
	var f fixtures
	if err := json.Unmarshal(raw, &f); err != nil {
		return fmt.Errorf("failed to decode fixtures: %w", err)
	}

	result, err := seed(ctx, store, f)
	if err != nil {
		return err
	}
	return writeJSON(out, result)
}

func seed(ctx context.Context, store seedStore, f fixtures) ([]seeded, error) {
	var result []seeded
	for _, lf := range f.Landlords {
		landlord := &models.Landlord{Name: lf.Name, Active: true}
		if err := store.CreateLandlord(ctx, landlord); err != nil {
			return nil, err
		}
		for _, code := range lf.ShortCodes {
			if err := store.MapShortCode(ctx, code, landlord.ID); err != nil {
				return nil, err
			}
		}

		s := seeded{
			LandlordID: landlord.ID,
			Name:       landlord.Name,
			Units:      make(map[string]string),
			Tenants:    make(map[string]string),
		}
		occupied := make(map[string]bool)
		for _, tf := range lf.Tenants {
			occupied[tf.Unit] = tf.Unit != ""
		}

		for _, uf := range lf.Units {
			occupancy := uf.Occupancy
			if occupancy == "" && occupied[uf.Reference] {
				occupancy = models.OccupancyOccupied
			}
			unit := &models.Unit{
				LandlordID:  landlord.ID,
				Reference:   uf.Reference,
				MonthlyRent: uf.MonthlyRent,
				Occupancy:   occupancy,
			}
			if err := store.CreateUnit(ctx, unit); err != nil {
				return nil, err
			}
			s.Units[uf.Reference] = unit.ID
		}

		for _, tf := range lf.Tenants {
			unitID, ok := s.Units[tf.Unit]
			if tf.Unit != "" && !ok {
				return nil, fmt.Errorf("tenant %s: unknown unit %q", tf.Name, tf.Unit)
			}
			tenant := &models.Tenant{
				LandlordID:     landlord.ID,
				Name:           tf.Name,
				Phone:          tf.Phone,
				SecondaryPhone: tf.SecondaryPhone,
				UnitID:         unitID,
			}
			if err := store.CreateTenant(ctx, tenant); err != nil {
				return nil, err
			}
			s.Tenants[tf.Name] = tenant.ID
		}

		result = append(result, s)
	}
	return result, nil
}
