package cache

import (
	"encoding/json"
	"fmt"
)

// Key names are shared with the web application; change them in lockstep.

// ProductsListPattern matches every cached product listing, filtered or not.
const ProductsListPattern = "products:list:*"

func ProductKey(productID string) string {
	return fmt.Sprintf("product:%s", productID)
}

// ProductsListKey returns the listing key for filters. Filters are serialized
// as JSON with sorted keys so equal filter sets always share a key.
func ProductsListKey(filters map[string]any) string {
	if len(filters) == 0 {
		return "products:list:all"
	}
	b, err := json.Marshal(filters)
	if err != nil {
		return fmt.Sprintf("products:list:%v", filters)
	}
	return "products:list:" + string(b)
}

func FarmerProductsKey(farmerID string) string {
	return fmt.Sprintf("farmer:%s:products", farmerID)
}

func UserOrdersKey(userID string) string {
	return fmt.Sprintf("user:%s:orders", userID)
}

func FarmerOrdersKey(farmerID string) string {
	return fmt.Sprintf("farmer:%s:orders", farmerID)
}

func UserKey(userID string) string {
	return fmt.Sprintf("user:%s", userID)
}
