package handlers

import (
	"math"
	"math/rand/v2"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

const (
	nyCBasePrice = 2.15 // USD per pound
	kgPerLb      = 2.20462
)

// PriceHandler serves a simulated New York C arabica quote. There is no market
// data feed behind it.
type PriceHandler struct {
	// Jitter returns a value in [0, 1); nil uses math/rand.
	Jitter func() float64
}

type PriceQuote struct {
	Market        string    `json:"market"`
	PriceUSDPerLb float64   `json:"price_usd_per_lb"`
	PriceUSDPerKg float64   `json:"price_usd_per_kg"`
	Currency      string    `json:"currency"`
	ChangePercent float64   `json:"change_percent"`
	Timestamp     time.Time `json:"timestamp"`
}

func round(v float64, places int) float64 {
	p := math.Pow(10, float64(places))
	return math.Round(v*p) / p
}

func (h *PriceHandler) GetCoffeePrice(c *gin.Context) {
	jitter := h.Jitter
	if jitter == nil {
		jitter = rand.Float64
	}
	variation := (jitter() - 0.5) * 0.1
	perLb := round(nyCBasePrice+variation, 4)

	c.JSON(http.StatusOK, PriceQuote{
		Market:        "New York C (Arabica)",
		PriceUSDPerLb: perLb,
		PriceUSDPerKg: round(perLb*kgPerLb, 4),
		Currency:      "USD",
		ChangePercent: round(variation/nyCBasePrice*100, 2),
		Timestamp:     time.Now().UTC(),
	})
}
