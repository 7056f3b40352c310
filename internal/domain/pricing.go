package domain

import (
	"errors"
	"fmt"
)

// ErrNegativePricing signals a pricing override carrying a negative component.
var ErrNegativePricing = errors.New("pricing: negative component")

// PricingOverride carries client-supplied pricing fields. Nil pointers mean
// "not supplied"; supplied values win verbatim over computed defaults.
type PricingOverride struct {
	Subtotal *int64
	Shipping *int64
	Tax      *int64
	Discount *int64
	Total    *int64
}

// ComputePricing derives the authoritative pricing summary for an order from
// its item snapshots and an optional client override. Subtotal defaults to the
// sum of line totals; shipping, tax, and discount default to zero; total
// defaults to subtotal + shipping + tax - discount. Supplied override values
// are trusted as-is and never reconciled. Pure function: no side effects.
func ComputePricing(items []OrderItem, override *PricingOverride) (PricingSummary, error) {
	var subtotal int64
	for _, item := range items {
		subtotal += item.Total()
	}

	summary := PricingSummary{Subtotal: subtotal}

	if override != nil {
		if err := validateOverride(override); err != nil {
			return PricingSummary{}, err
		}
		if override.Subtotal != nil {
			summary.Subtotal = *override.Subtotal
		}
		if override.Shipping != nil {
			summary.Shipping = *override.Shipping
		}
		if override.Tax != nil {
			summary.Tax = *override.Tax
		}
		if override.Discount != nil {
			summary.Discount = *override.Discount
		}
	}

	computed := summary.Subtotal + summary.Shipping + summary.Tax - summary.Discount
	if computed < 0 {
		computed = 0
	}
	summary.Total = computed

	if override != nil && override.Total != nil {
		summary.Total = *override.Total
	}

	return summary, nil
}

func validateOverride(override *PricingOverride) error {
	components := map[string]*int64{
		"subtotal": override.Subtotal,
		"shipping": override.Shipping,
		"tax":      override.Tax,
		"discount": override.Discount,
		"total":    override.Total,
	}
	for name, value := range components {
		if value != nil && *value < 0 {
			return fmt.Errorf("%w: %s", ErrNegativePricing, name)
		}
	}
	return nil
}
