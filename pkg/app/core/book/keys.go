package book

import "fmt"

const prefixOrder = "ord:"

// orderKey returns the key for an order.
// Format: "ord:{id 20 digits}" so iteration follows id order.
func orderKey(id uint64) []byte {
	return []byte(fmt.Sprintf("%s%020d", prefixOrder, id))
}
