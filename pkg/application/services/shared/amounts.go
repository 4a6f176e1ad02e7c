package shared

import (
	"sort"

	"github.com/shopspring/decimal"

	"github.com/vsinha/affect/pkg/domain/entities"
)

// Amounts maps budget buckets to an amount. Missing keys read as zero.
type Amounts map[entities.BudgetKey]decimal.Decimal

// Get returns the amount of a key
func (a Amounts) Get(key entities.BudgetKey) decimal.Decimal {
	return a[key]
}

// Add increases the amount of a key
func (a Amounts) Add(key entities.BudgetKey, amount decimal.Decimal) {
	a[key] = a[key].Add(amount)
}

// Total sums every amount
func (a Amounts) Total() decimal.Decimal {
	total := decimal.Zero
	for _, v := range a {
		total = total.Add(v)
	}
	return total
}

// TotalForCategory sums the amounts of one category
func (a Amounts) TotalForCategory(categoryID int64) decimal.Decimal {
	total := decimal.Zero
	for k, v := range a {
		if k.CategoryID == categoryID {
			total = total.Add(v)
		}
	}
	return total
}

// Keys returns the keys ordered by category then consumer
func (a Amounts) Keys() []entities.BudgetKey {
	keys := make([]entities.BudgetKey, 0, len(a))
	for k := range a {
		keys = append(keys, k)
	}
	SortBudgetKeys(keys)
	return keys
}

// SortBudgetKeys orders keys by category, consumer kind then consumer id
func SortBudgetKeys(keys []entities.BudgetKey) {
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].CategoryID != keys[j].CategoryID {
			return keys[i].CategoryID < keys[j].CategoryID
		}
		if keys[i].Consumer.Kind != keys[j].Consumer.Kind {
			return keys[i].Consumer.Kind < keys[j].Consumer.Kind
		}
		return keys[i].Consumer.ID < keys[j].Consumer.ID
	})
}
