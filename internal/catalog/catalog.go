package catalog

import (
	"github.com/gin-gonic/gin"
	"github.com/ksred/brokerage-api/internal/types"
	"github.com/ksred/brokerage-api/pkg/response"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"
)

// Service provides read access to instrument reference data. The
// execution core treats this catalog as read-only: tick size, lot size
// and status never change during an order's lifecycle.
type Service struct {
	db *Database
}

// NewService creates a new catalog service with the given database connection
func NewService(gormDB *gorm.DB) *Service {
	return &Service{
		db: NewDatabase(gormDB),
	}
}

// CreateInstrument registers a new tradable instrument
func (s *Service) CreateInstrument(instrument *types.Instrument) error {
	if instrument.Status == "" {
		instrument.Status = types.InstrumentStatusActive
	}
	if instrument.LotSize <= 0 {
		instrument.LotSize = 1
	}
	if instrument.TickSize <= 0 {
		instrument.TickSize = 0.01
	}

	log.Info().
		Str("symbol", instrument.Symbol).
		Str("exchange", instrument.Exchange).
		Str("class", instrument.Class).
		Float64("lot_size", instrument.LotSize).
		Float64("tick_size", instrument.TickSize).
		Msg("registering instrument")

	return s.db.CreateInstrument(instrument)
}

// GetInstrument retrieves an instrument by symbol, or nil if unknown
func (s *Service) GetInstrument(symbol string) (*types.Instrument, error) {
	return s.db.GetInstrument(symbol)
}

// ListInstruments returns all registered instruments
func (s *Service) ListInstruments() ([]types.Instrument, error) {
	return s.db.ListInstruments()
}

// ScopeCandidates returns the margin rule scopes that can cover an
// instrument, most specific first: instrument class, then exchange.
func ScopeCandidates(instrument *types.Instrument) []string {
	candidates := make([]string, 0, 2)
	if instrument.Class != "" {
		candidates = append(candidates, instrument.Class)
	}
	if instrument.Exchange != "" {
		candidates = append(candidates, instrument.Exchange)
	}
	return candidates
}

// GinHandlers contains HTTP handlers for catalog endpoints
type GinHandlers struct {
	service *Service
}

// NewGinHandlers creates a new set of HTTP handlers for catalog endpoints
func NewGinHandlers(service *Service) *GinHandlers {
	return &GinHandlers{
		service: service,
	}
}

// CreateInstrumentHandler handles POST requests to register instruments
// Requires operator authentication
func (h *GinHandlers) CreateInstrumentHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var instrument types.Instrument
		if err := c.ShouldBindJSON(&instrument); err != nil {
			response.BadRequest(c, err.Error())
			return
		}
		if instrument.Symbol == "" {
			response.BadRequest(c, "symbol is required")
			return
		}

		if err := h.service.CreateInstrument(&instrument); err != nil {
			response.Handle(c, nil, err)
			return
		}

		response.Success(c, instrument)
	}
}

// ListInstrumentsHandler handles GET requests for the instrument list
func (h *GinHandlers) ListInstrumentsHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		instruments, err := h.service.ListInstruments()
		response.Handle(c, instruments, err)
	}
}
