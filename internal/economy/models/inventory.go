package models

import (
	"slices"

	id "coinledger/pkg/domain"
	dErrors "coinledger/pkg/domain-errors"
)

// Category groups purchasable products.
type Category string

const (
	CategoryStickerPack  Category = "sticker_pack"
	CategoryProfileFrame Category = "profile_frame"
	CategoryChatBubble   Category = "chat_bubble"
	CategoryAvatarPack   Category = "avatar_pack"
	CategoryTheme        Category = "theme"
)

var AllCategories = []Category{
	CategoryStickerPack, CategoryProfileFrame, CategoryChatBubble, CategoryAvatarPack, CategoryTheme,
}

func ParseCategory(s string) (Category, error) {
	c := Category(s)
	if slices.Contains(AllCategories, c) {
		return c, nil
	}
	return "", dErrors.New(dErrors.CodeValidation, "unknown category")
}

// Inventory is the set of products a principal owns, per category.
type Inventory struct {
	Owner id.PrincipalID              `json:"owner"`
	Items map[Category][]id.ProductID `json:"items"`
}

func NewInventory(owner id.PrincipalID) *Inventory {
	return &Inventory{Owner: owner, Items: make(map[Category][]id.ProductID)}
}

func (inv *Inventory) Owns(category Category, product id.ProductID) bool {
	return slices.Contains(inv.Items[category], product)
}

// Owned returns a copy of the products in category.
func (inv *Inventory) Owned(category Category) []id.ProductID {
	return slices.Clone(inv.Items[category])
}

func (inv *Inventory) CanAdd(category Category, product id.ProductID) error {
	if inv.Owns(category, product) {
		return dErrors.New(dErrors.CodeAlreadyOwned, "you already own this item")
	}
	return nil
}

func (inv *Inventory) ApplyAdd(category Category, product id.ProductID) {
	if inv.Items == nil {
		inv.Items = make(map[Category][]id.ProductID)
	}
	inv.Items[category] = append(inv.Items[category], product)
}

func (inv *Inventory) Clone() *Inventory {
	out := NewInventory(inv.Owner)
	for c, items := range inv.Items {
		out.Items[c] = slices.Clone(items)
	}
	return out
}
