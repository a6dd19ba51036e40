package storage

import (
	"strings"

	"github.com/jackc/pgx/v5"

	"github.com/example/menu-sync/internal/types"
)

// tableSpec describes the table holding one orderable kind.
type tableSpec struct {
	kind         types.Kind
	name         string
	parentColumn string
	parentTable  string
	// columns are the user editable columns, in scan order after the parent.
	columns []string
	// ownerSQL resolves the owner of a parent id ($1).
	ownerSQL string
	// touchSQL bumps updated_at of the restaurant owning a parent id ($1).
	touchSQL string
}

func (t tableSpec) selectColumns() string {
	cols := append([]string{"id", t.parentColumn}, t.columns...)
	cols = append(cols, "position", "created_at", "updated_at")
	return strings.Join(cols, ", ")
}

type table[T any] struct {
	tableSpec
	scan   func(row pgx.Row) (T, error)
	values func(item T) []any
}

const (
	restaurantOwnerSQL = `SELECT owner_id FROM restaurants WHERE id = $1`
	menuOwnerSQL       = `SELECT r.owner_id FROM menus m JOIN restaurants r ON r.id = m.restaurant_id WHERE m.id = $1`
	categoryOwnerSQL   = `SELECT r.owner_id FROM categories c JOIN menus m ON m.id = c.menu_id JOIN restaurants r ON r.id = m.restaurant_id WHERE c.id = $1`

	touchRestaurantSQL = `UPDATE restaurants SET updated_at = now() WHERE id = $1`
	touchByMenuSQL     = `UPDATE restaurants SET updated_at = now() WHERE id = (SELECT restaurant_id FROM menus WHERE id = $1)`
	touchByCategorySQL = `UPDATE restaurants SET updated_at = now() WHERE id = (
		SELECT m.restaurant_id FROM categories c JOIN menus m ON m.id = c.menu_id WHERE c.id = $1)`
)

var menuTable = table[types.Menu]{
	tableSpec: tableSpec{
		kind:         types.KindMenu,
		name:         "menus",
		parentColumn: "restaurant_id",
		parentTable:  "restaurants",
		columns:      []string{"name", "availability"},
		ownerSQL:     restaurantOwnerSQL,
		touchSQL:     touchRestaurantSQL,
	},
	scan: func(row pgx.Row) (types.Menu, error) {
		var m types.Menu
		err := row.Scan(&m.ID, &m.RestaurantID, &m.Name, &m.Availability, &m.Position, &m.CreatedAt, &m.UpdatedAt)
		return m, err
	},
	values: func(m types.Menu) []any { return []any{m.Name, m.Availability} },
}

var categoryTable = table[types.Category]{
	tableSpec: tableSpec{
		kind:         types.KindCategory,
		name:         "categories",
		parentColumn: "menu_id",
		parentTable:  "menus",
		columns:      []string{"name"},
		ownerSQL:     menuOwnerSQL,
		touchSQL:     touchByMenuSQL,
	},
	scan: func(row pgx.Row) (types.Category, error) {
		var c types.Category
		err := row.Scan(&c.ID, &c.MenuID, &c.Name, &c.Position, &c.CreatedAt, &c.UpdatedAt)
		return c, err
	},
	values: func(c types.Category) []any { return []any{c.Name} },
}

var itemTable = table[types.Item]{
	tableSpec: tableSpec{
		kind:         types.KindItem,
		name:         "items",
		parentColumn: "category_id",
		parentTable:  "categories",
		columns:      []string{"name", "price", "description", "image_path"},
		ownerSQL:     categoryOwnerSQL,
		touchSQL:     touchByCategorySQL,
	},
	scan: func(row pgx.Row) (types.Item, error) {
		var i types.Item
		err := row.Scan(&i.ID, &i.CategoryID, &i.Name, &i.Price, &i.Description, &i.ImagePath, &i.Position, &i.CreatedAt, &i.UpdatedAt)
		return i, err
	},
	values: func(i types.Item) []any { return []any{i.Name, i.Price, i.Description, i.ImagePath} },
}

var bannerTable = table[types.Banner]{
	tableSpec: tableSpec{
		kind:         types.KindBanner,
		name:         "banners",
		parentColumn: "restaurant_id",
		parentTable:  "restaurants",
		columns:      []string{"image_path"},
		ownerSQL:     restaurantOwnerSQL,
		touchSQL:     touchRestaurantSQL,
	},
	scan: func(row pgx.Row) (types.Banner, error) {
		var b types.Banner
		err := row.Scan(&b.ID, &b.RestaurantID, &b.ImagePath, &b.Position, &b.CreatedAt, &b.UpdatedAt)
		return b, err
	},
	values: func(b types.Banner) []any { return []any{b.ImagePath} },
}

var tables = map[types.Kind]tableSpec{
	types.KindMenu:     menuTable.tableSpec,
	types.KindCategory: categoryTable.tableSpec,
	types.KindItem:     itemTable.tableSpec,
	types.KindBanner:   bannerTable.tableSpec,
}
