package firestore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	domain "github.com/cartworks/api/internal/domain"
	pfirestore "github.com/cartworks/api/internal/platform/firestore"
	"github.com/cartworks/api/internal/repositories"
)

const productsCollection = "products"

type productDocument struct {
	Name           string    `firestore:"name"`
	Price          int64     `firestore:"price"`
	StockQuantity  int       `firestore:"stockQuantity"`
	TrackInventory bool      `firestore:"trackInventory"`
	SalesCount     int64     `firestore:"salesCount"`
	SalesRevenue   int64     `firestore:"salesRevenue"`
	IsActive       bool      `firestore:"isActive"`
	Images         []string  `firestore:"images,omitempty"`
	UpdatedAt      time.Time `firestore:"updatedAt"`
}

func (d productDocument) toDomain(id string) domain.Product {
	return domain.Product{
		ID:             id,
		Name:           strings.TrimSpace(d.Name),
		Price:          d.Price,
		StockQuantity:  d.StockQuantity,
		TrackInventory: d.TrackInventory,
		SalesCount:     d.SalesCount,
		SalesRevenue:   d.SalesRevenue,
		IsActive:       d.IsActive,
		Images:         d.Images,
		UpdatedAt:      d.UpdatedAt,
	}
}

// ProductRepository implements repositories.ProductRepository backed by Firestore.
type ProductRepository struct {
	provider *pfirestore.Provider
	products *pfirestore.BaseRepository[productDocument]
}

// NewProductRepository constructs a Firestore-backed product repository.
func NewProductRepository(provider *pfirestore.Provider) (*ProductRepository, error) {
	if provider == nil {
		return nil, errors.New("product repository requires firestore provider")
	}
	base := pfirestore.NewBaseRepository[productDocument](provider, productsCollection, nil)
	return &ProductRepository{provider: provider, products: base}, nil
}

// FindByID loads a product, reading through the ambient transaction when one is active.
func (r *ProductRepository) FindByID(ctx context.Context, productID string) (domain.Product, error) {
	if r == nil || r.products == nil {
		return domain.Product{}, errors.New("product repository not initialised")
	}
	productID = strings.TrimSpace(productID)
	if productID == "" {
		return domain.Product{}, repositories.NewInventoryError(repositories.InventoryErrorProductNotFound, "product id is required", nil)
	}

	if tx, ok := pfirestore.TransactionFrom(ctx); ok {
		ref, err := r.products.DocumentRef(ctx, productID)
		if err != nil {
			return domain.Product{}, err
		}
		snap, err := tx.Get(ref)
		if err != nil {
			if status.Code(err) == codes.NotFound {
				return domain.Product{}, repositories.NewInventoryError(repositories.InventoryErrorProductNotFound, fmt.Sprintf("product %s not found", productID), err)
			}
			return domain.Product{}, pfirestore.WrapError("products.get", err)
		}
		var doc productDocument
		if err := snap.DataTo(&doc); err != nil {
			return domain.Product{}, fmt.Errorf("decode product %s: %w", productID, err)
		}
		return doc.toDomain(productID), nil
	}

	doc, err := r.products.Get(ctx, productID)
	if err != nil {
		var repoErr *pfirestore.Error
		if errors.As(err, &repoErr) && repoErr.IsNotFound() {
			return domain.Product{}, repositories.NewInventoryError(repositories.InventoryErrorProductNotFound, fmt.Sprintf("product %s not found", productID), err)
		}
		return domain.Product{}, err
	}
	return doc.Data.toDomain(doc.ID), nil
}

// ApplySales stages stock decrements and sales counter increments for every
// product in the set inside the ambient transaction. All products are read and
// validated before the first write is staged; any failure aborts the whole
// transaction, discarding every staged mutation.
func (r *ProductRepository) ApplySales(ctx context.Context, mutations []repositories.SaleMutation) error {
	tx, loaded, err := r.loadForMutation(ctx, mutations)
	if err != nil {
		return err
	}

	for i := range loaded {
		mutation := loaded[i].mutation
		doc := &loaded[i].doc
		if !doc.IsActive {
			return repositories.NewInventoryError(
				repositories.InventoryErrorProductInactive,
				fmt.Sprintf("product %s is not active", mutation.ProductID),
				nil,
			)
		}
		if doc.TrackInventory && mutation.EnforceStock && doc.StockQuantity < mutation.Quantity {
			return repositories.NewInventoryError(
				repositories.InventoryErrorInsufficientStock,
				fmt.Sprintf("insufficient stock for product %s: have %d, want %d", mutation.ProductID, doc.StockQuantity, mutation.Quantity),
				nil,
			)
		}
	}

	for i := range loaded {
		mutation := loaded[i].mutation
		doc := loaded[i].doc
		if doc.TrackInventory {
			doc.StockQuantity -= mutation.Quantity
		}
		doc.SalesCount += int64(mutation.Quantity)
		doc.SalesRevenue += mutation.Revenue
		doc.UpdatedAt = mutation.Now.UTC()

		if err := tx.Set(loaded[i].ref, doc); err != nil {
			return pfirestore.WrapError("products.applySales", err)
		}
	}
	return nil
}

// ReverseSales stages the inverse of ApplySales. Sales counters are floored at
// zero so a reversal can never leave them negative.
func (r *ProductRepository) ReverseSales(ctx context.Context, mutations []repositories.SaleMutation) error {
	tx, loaded, err := r.loadForMutation(ctx, mutations)
	if err != nil {
		return err
	}

	for i := range loaded {
		mutation := loaded[i].mutation
		doc := loaded[i].doc
		if doc.TrackInventory {
			doc.StockQuantity += mutation.Quantity
		}
		doc.SalesCount -= int64(mutation.Quantity)
		if doc.SalesCount < 0 {
			doc.SalesCount = 0
		}
		doc.SalesRevenue -= mutation.Revenue
		if doc.SalesRevenue < 0 {
			doc.SalesRevenue = 0
		}
		doc.UpdatedAt = mutation.Now.UTC()

		if err := tx.Set(loaded[i].ref, doc); err != nil {
			return pfirestore.WrapError("products.reverseSales", err)
		}
	}
	return nil
}

type loadedProductMutation struct {
	mutation repositories.SaleMutation
	ref      *firestore.DocumentRef
	doc      productDocument
}

func (r *ProductRepository) loadForMutation(ctx context.Context, mutations []repositories.SaleMutation) (*firestore.Transaction, []loadedProductMutation, error) {
	if r == nil || r.products == nil {
		return nil, nil, errors.New("product repository not initialised")
	}
	tx, ok := pfirestore.TransactionFrom(ctx)
	if !ok {
		return nil, nil, errors.New("product mutation requires an active transaction")
	}
	if len(mutations) == 0 {
		return nil, nil, repositories.NewInventoryError(repositories.InventoryErrorUnknown, "at least one mutation is required", nil)
	}

	loaded := make([]loadedProductMutation, 0, len(mutations))
	for _, mutation := range mutations {
		productID := strings.TrimSpace(mutation.ProductID)
		if productID == "" {
			return nil, nil, repositories.NewInventoryError(repositories.InventoryErrorProductNotFound, "product id is required", nil)
		}
		if mutation.Quantity <= 0 {
			return nil, nil, repositories.NewInventoryError(repositories.InventoryErrorUnknown, fmt.Sprintf("quantity for product %s must be > 0", productID), nil)
		}
		mutation.ProductID = productID

		ref, err := r.products.DocumentRef(ctx, productID)
		if err != nil {
			return nil, nil, err
		}
		snap, err := tx.Get(ref)
		if err != nil {
			if status.Code(err) == codes.NotFound {
				return nil, nil, repositories.NewInventoryError(repositories.InventoryErrorProductNotFound, fmt.Sprintf("product %s not found", productID), err)
			}
			return nil, nil, pfirestore.WrapError("products.get", err)
		}
		var doc productDocument
		if err := snap.DataTo(&doc); err != nil {
			return nil, nil, fmt.Errorf("decode product %s: %w", productID, err)
		}
		loaded = append(loaded, loadedProductMutation{mutation: mutation, ref: ref, doc: doc})
	}
	return tx, loaded, nil
}
