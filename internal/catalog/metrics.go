package catalog

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var syncedOffers = promauto.NewGaugeVec(prometheus.GaugeOpts{
	Name: "catalog_synced_offers",
	Help: "Offers produced by the last sync pass, per provider.",
}, []string{"provider"})
