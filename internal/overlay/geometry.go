package overlay

import (
	"errors"
	"fmt"
	"sort"

	"github.com/BurntSushi/toml"
)

// ErrUnknownProduct is returned when a products file has no entry for the
// requested product.
var ErrUnknownProduct = errors.New("unknown product")

// Geometry is the die grid placement of one product.
type Geometry struct {
	Grid   GridSize   `toml:"grid"`
	Offset GridOffset `toml:"offset"`
	Size   SizeOffset `toml:"size"`
}

// Validate checks that the die cell has a positive size.
func (g Geometry) Validate() error {
	if g.Grid.Width <= 0 || g.Grid.Height <= 0 {
		return fmt.Errorf("grid size must be positive, got %gx%g", g.Grid.Width, g.Grid.Height)
	}
	return nil
}

// Products maps product IDs to their geometry.
type Products map[string]Geometry

type productsFile struct {
	Products Products `toml:"products"`
}

// LoadProducts reads a TOML products file of the form
//
//	[products.P1]
//	grid   = { width = 5.2, height = 4.8 }
//	offset = { x = -2.6, y = 2.4 }
//	size   = { x = 20, y = 20 }
func LoadProducts(path string) (Products, error) {
	var f productsFile
	md, err := toml.DecodeFile(path, &f)
	if err != nil {
		return nil, fmt.Errorf("failed to read products file %s: %w", path, err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		return nil, fmt.Errorf("unknown keys in %s: %v", path, undecoded)
	}
	for id, g := range f.Products {
		if err := g.Validate(); err != nil {
			return nil, fmt.Errorf("product %s: %w", id, err)
		}
	}
	return f.Products, nil
}

// IDs returns the product IDs in sorted order.
func (p Products) IDs() []string {
	ids := make([]string, 0, len(p))
	for id := range p {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// LoadGeometry returns the geometry of one product from a products file.
func LoadGeometry(path, product string) (Geometry, error) {
	products, err := LoadProducts(path)
	if err != nil {
		return Geometry{}, err
	}
	g, ok := products[product]
	if !ok {
		return Geometry{}, fmt.Errorf("%w %q in %s", ErrUnknownProduct, product, path)
	}
	return g, nil
}
