package orders

import "strconv"

const (
	TopicOrderCreated   = "order.created"
	TopicProductSoldOut = "product.sold_out"
)

// PartitionKey keeps all events of one order on the same partition.
func PartitionKey(orderID int64) []byte { return []byte(strconv.FormatInt(orderID, 10)) }

// ProductKey keys product-scoped events.
func ProductKey(productID int64) []byte {
	return []byte("product-" + strconv.FormatInt(productID, 10))
}
