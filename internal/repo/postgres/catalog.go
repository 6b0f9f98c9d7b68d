package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/fleetcheck/fleetcheck/internal/domain"
)

// CatalogStore reads units and template items. Both are maintained by the
// surrounding application.
type CatalogStore struct {
	db DB
}

const (
	selectUnitQuery = `SELECT unit_id, org_id, name, license_plate, time_zone FROM units WHERE unit_id = $1`

	listTemplateItemsQuery = `SELECT item_id, template_id, label, kind, required, sort_order
	 FROM template_items
	 WHERE template_id = $1
	 ORDER BY sort_order ASC, item_id ASC`
)

func NewCatalogStore(db DB) *CatalogStore {
	if db == nil {
		return nil
	}
	return &CatalogStore{db: db}
}

func (s *CatalogStore) GetUnit(ctx context.Context, id string) (domain.Unit, error) {
	if s == nil || s.db == nil {
		return domain.Unit{}, fmt.Errorf("catalog store not initialized")
	}
	var (
		unit  domain.Unit
		plate sql.NullString
	)
	err := s.db.QueryRowContext(ctx, selectUnitQuery, strings.TrimSpace(id)).
		Scan(&unit.ID, &unit.OrgID, &unit.Name, &plate, &unit.TimeZone)
	if err != nil {
		return domain.Unit{}, classify("get unit", err)
	}
	unit.LicensePlate = plate.String
	return unit, nil
}

func (s *CatalogStore) ListTemplateItems(ctx context.Context, templateID string) ([]domain.TemplateItem, error) {
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("catalog store not initialized")
	}
	rows, err := s.db.QueryContext(ctx, listTemplateItemsQuery, strings.TrimSpace(templateID))
	if err != nil {
		return nil, classify("list template items", err)
	}
	defer rows.Close()

	items := make([]domain.TemplateItem, 0)
	for rows.Next() {
		var item domain.TemplateItem
		if err := rows.Scan(&item.ID, &item.TemplateID, &item.Label, &item.Kind, &item.Required, &item.SortOrder); err != nil {
			return nil, fmt.Errorf("scan template item: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, classify("list template items", err)
	}
	return items, nil
}
