package marketdata

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/ksred/brokerage-api/internal/types"
	"github.com/ksred/brokerage-api/pkg/response"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"
)

// Service is the reference price collaborator. The execution simulator
// fills market orders at the latest quote, and the margin evaluator
// marks open positions against it.
type Service struct {
	db *Database
}

// NewService creates a new market data service with the given database connection
func NewService(gormDB *gorm.DB) *Service {
	return &Service{
		db: NewDatabase(gormDB),
	}
}

// UpsertQuote records the latest reference price for an instrument
func (s *Service) UpsertQuote(symbol string, price float64) error {
	if price <= 0 {
		return types.NewInvalidOrderError("price", "reference price must be positive, got %f", price)
	}

	log.Debug().
		Str("symbol", symbol).
		Float64("price", price).
		Msg("updating reference quote")

	return s.db.UpsertQuote(&types.Quote{
		Symbol:   symbol,
		Price:    price,
		QuotedAt: time.Now(),
	})
}

// GetReferencePrice returns the latest reference price for an
// instrument. Returns ErrNoLiquidity when no quote exists.
func (s *Service) GetReferencePrice(symbol string) (float64, error) {
	quote, err := s.db.GetQuote(symbol)
	if err != nil {
		return 0, err
	}
	if quote == nil {
		return 0, types.ErrNoLiquidity
	}
	return quote.Price, nil
}

// GinHandlers contains HTTP handlers for market data endpoints
type GinHandlers struct {
	service *Service
}

// NewGinHandlers creates a new set of HTTP handlers for market data endpoints
func NewGinHandlers(service *Service) *GinHandlers {
	return &GinHandlers{
		service: service,
	}
}

// UpsertQuoteHandler handles POST requests to publish reference quotes
// Requires operator authentication
func (h *GinHandlers) UpsertQuoteHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var request struct {
			Symbol string  `json:"symbol" binding:"required"`
			Price  float64 `json:"price" binding:"required"`
		}

		if err := c.ShouldBindJSON(&request); err != nil {
			response.BadRequest(c, err.Error())
			return
		}

		if err := h.service.UpsertQuote(request.Symbol, request.Price); err != nil {
			response.Handle(c, nil, err)
			return
		}

		response.Success(c, gin.H{"symbol": request.Symbol, "price": request.Price})
	}
}
