package types

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrInvalid is wrapped by validation failures on user supplied fields.
var ErrInvalid = errors.New("invalid input")

// Kind names an orderable collection type.
type Kind string

const (
	KindMenu     Kind = "menu"
	KindCategory Kind = "category"
	KindItem     Kind = "item"
	KindBanner   Kind = "banner"
)

// Kinds lists every orderable kind.
var Kinds = []Kind{KindMenu, KindCategory, KindItem, KindBanner}

// ParseKind validates a kind name.
func ParseKind(raw string) (Kind, error) {
	for _, k := range Kinds {
		if string(k) == raw {
			return k, nil
		}
	}
	return "", fmt.Errorf("kind %q: %w", raw, ErrInvalid)
}

// Plural is the collection name used in routes and tables.
func (k Kind) Plural() string {
	switch k {
	case KindCategory:
		return "categories"
	default:
		return string(k) + "s"
	}
}

// ParentPlural is the route segment of the owning collection.
func (k Kind) ParentPlural() string {
	switch k {
	case KindCategory:
		return "menus"
	case KindItem:
		return "categories"
	default:
		return "restaurants"
	}
}

// ParentKey identifies one ordered collection: the children of kind Kind
// under Parent.
type ParentKey struct {
	Kind   Kind
	Parent string
}

// String renders the key as "<kind>:<parent>", the form used for topics.
func (k ParentKey) String() string {
	return string(k.Kind) + ":" + k.Parent
}

// ParseParentKey is the inverse of ParentKey.String.
func ParseParentKey(raw string) (ParentKey, error) {
	kind, parent, ok := strings.Cut(raw, ":")
	if !ok || parent == "" {
		return ParentKey{}, fmt.Errorf("collection %q: %w", raw, ErrInvalid)
	}
	k, err := ParseKind(kind)
	if err != nil {
		return ParentKey{}, err
	}
	return ParentKey{Kind: k, Parent: parent}, nil
}

// Restaurant is the root of an owner's menus.
type Restaurant struct {
	ID          string     `json:"id"`
	OwnerID     string     `json:"owner_id"`
	Name        string     `json:"name"`
	Location    string     `json:"location"`
	ContactNo   string     `json:"contact_no,omitempty"`
	ImagePath   string     `json:"image_path,omitempty"`
	IsPublished bool       `json:"is_published"`
	PublishedAt *time.Time `json:"published_at,omitempty"`
	// PublishedObject is the object storage key of the latest public snapshot.
	PublishedObject string    `json:"-"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// NeedsRepublish reports whether the restaurant changed after its last
// public snapshot was taken.
func (r Restaurant) NeedsRepublish() bool {
	if !r.IsPublished {
		return false
	}
	return r.PublishedObject == "" || r.PublishedAt == nil || r.UpdatedAt.After(*r.PublishedAt)
}

// Validate checks user editable fields.
func (r Restaurant) Validate() error {
	if err := required("name", r.Name, 40); err != nil {
		return err
	}
	if err := required("location", r.Location, 80); err != nil {
		return err
	}
	return optional("contact_no", r.ContactNo, 20)
}

// Menu belongs to a restaurant.
type Menu struct {
	ID           string    `json:"id"`
	RestaurantID string    `json:"restaurant_id"`
	Name         string    `json:"name"`
	Availability string    `json:"availability,omitempty"`
	Position     int       `json:"position"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

func (m Menu) OrderKey() string        { return m.ID }
func (m Menu) OrderPosition() int      { return m.Position }
func (m Menu) WithPosition(p int) Menu { m.Position = p; return m }
func (m Menu) ParentID() string        { return m.RestaurantID }
func (m Menu) DisplayName() string     { return m.Name }

// Validate checks user editable fields.
func (m Menu) Validate() error {
	if err := required("name", m.Name, 30); err != nil {
		return err
	}
	return optional("availability", m.Availability, 50)
}

// Category groups items inside a menu.
type Category struct {
	ID        string    `json:"id"`
	MenuID    string    `json:"menu_id"`
	Name      string    `json:"name"`
	Position  int       `json:"position"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (c Category) OrderKey() string            { return c.ID }
func (c Category) OrderPosition() int          { return c.Position }
func (c Category) WithPosition(p int) Category { c.Position = p; return c }
func (c Category) ParentID() string            { return c.MenuID }
func (c Category) DisplayName() string         { return c.Name }

// Validate checks user editable fields.
func (c Category) Validate() error {
	return required("name", c.Name, 30)
}

// Item is a dish or drink listed under a category.
type Item struct {
	ID          string    `json:"id"`
	CategoryID  string    `json:"category_id"`
	Name        string    `json:"name"`
	Price       string    `json:"price"`
	Description string    `json:"description,omitempty"`
	ImagePath   string    `json:"image_path,omitempty"`
	Position    int       `json:"position"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

func (i Item) OrderKey() string        { return i.ID }
func (i Item) OrderPosition() int      { return i.Position }
func (i Item) WithPosition(p int) Item { i.Position = p; return i }
func (i Item) ParentID() string        { return i.CategoryID }
func (i Item) DisplayName() string     { return i.Name }

// Validate checks user editable fields.
func (i Item) Validate() error {
	if err := required("name", i.Name, 50); err != nil {
		return err
	}
	if err := required("price", i.Price, 12); err != nil {
		return err
	}
	return optional("description", i.Description, 250)
}

// Banner is a promotional image shown above a restaurant's menus.
type Banner struct {
	ID           string    `json:"id"`
	RestaurantID string    `json:"restaurant_id"`
	ImagePath    string    `json:"image_path"`
	Position     int       `json:"position"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

func (b Banner) OrderKey() string          { return b.ID }
func (b Banner) OrderPosition() int        { return b.Position }
func (b Banner) WithPosition(p int) Banner { b.Position = p; return b }
func (b Banner) ParentID() string          { return b.RestaurantID }

// Validate checks user editable fields.
func (b Banner) Validate() error {
	return required("image_path", b.ImagePath, 200)
}

// PublicCategory is a category with its ordered items.
type PublicCategory struct {
	Category
	Items []Item `json:"items"`
}

// PublicMenu is a menu with its ordered categories.
type PublicMenu struct {
	Menu
	Categories []PublicCategory `json:"categories"`
}

// PublicView is the customer facing rendition of a published restaurant.
type PublicView struct {
	Restaurant Restaurant   `json:"restaurant"`
	Banners    []Banner     `json:"banners"`
	Menus      []PublicMenu `json:"menus"`
}

func required(field, value string, max int) error {
	if strings.TrimSpace(value) == "" {
		return fmt.Errorf("%s is required: %w", field, ErrInvalid)
	}
	return optional(field, value, max)
}

func optional(field, value string, max int) error {
	if len([]rune(value)) > max {
		return fmt.Errorf("%s exceeds %d characters: %w", field, max, ErrInvalid)
	}
	return nil
}
