package middleware

import (
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/newrelic/go-agent/v3/newrelic"
)

// CorrelationHeader carries the saga correlation id.
const CorrelationHeader = "x-correlation-id"

// CorrelationMiddleware makes sure every request carries a correlation id.
// A missing id is generated and written back to the request so handlers read one place.
// The id is echoed in the response and attached to the New Relic transaction when there is one.
func CorrelationMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(CorrelationHeader)
		if id == "" {
			id = uuid.New().String()
			c.Request.Header.Set(CorrelationHeader, id)
		}
		c.Header(CorrelationHeader, id)

		if txn := newrelic.FromContext(c.Request.Context()); txn != nil {
			txn.AddAttribute("correlationId", id)
		}

		c.Next()
	}
}
