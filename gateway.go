package medigate

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"github.com/medihelp/medigate/cache"
	"github.com/medihelp/medigate/proxy"
	"github.com/medihelp/medigate/store"
)

// popularTopN is the ranking depth used both for the catalog popularity flag
// and for adaptive TTL selection.
const popularTopN = 10

// GatewayConfig holds the settings the Gateway needs beyond its injected
// collaborators.
type GatewayConfig struct {
	// ClientID selects the resource_access claim group merged into roles.
	ClientID string

	// ReadLimit and WriteLimit are requests per RateWindow, per user-or-IP.
	ReadLimit  int
	WriteLimit int
	RateWindow time.Duration

	// Log is the process logger. Defaults to the logrus standard logger.
	Log *logrus.Logger
}

// Gateway is the edge component in front of the record services. It owns the
// middleware pipeline (authenticate, authorize, rate-limit) and the
// cache-aside read path; everything it cannot answer from cache is relayed
// to the owning downstream.
type Gateway struct {
	cfg    GatewayConfig
	store  store.Store
	cache  *cache.Cache
	ranker *cache.Ranker
	log    *logrus.Logger

	users         *proxy.Client
	inventory     *proxy.Client
	pharmacies    *proxy.Client
	prescriptions *proxy.Client
}

// NewGateway wires a Gateway from its collaborators. The store is shared by
// the rate limiters, the cache, and the popularity ranker; it is constructed
// once by the caller and injected, never held globally.
func NewGateway(cfg GatewayConfig, st store.Store, users, inventory, pharmacies, prescriptions *proxy.Client) *Gateway {
	if cfg.Log == nil {
		cfg.Log = logrus.StandardLogger()
	}
	if cfg.ReadLimit <= 0 {
		cfg.ReadLimit = 100
	}
	if cfg.WriteLimit <= 0 {
		cfg.WriteLimit = 30
	}
	if cfg.RateWindow <= 0 {
		cfg.RateWindow = time.Minute
	}

	return &Gateway{
		cfg:           cfg,
		store:         st,
		cache:         cache.New(st, cfg.Log),
		ranker:        cache.NewRanker(st, cfg.Log),
		log:           cfg.Log,
		users:         users,
		inventory:     inventory,
		pharmacies:    pharmacies,
		prescriptions: prescriptions,
	}
}

// Close stops the popularity worker. The store is closed by its owner.
func (g *Gateway) Close() {
	g.ranker.Close()
}

// Routes builds the full route table. Each route composes its pipeline
// explicitly: wrapper, then authentication where required, then the role
// check, then rate limiting, then the handler.
func (g *Gateway) Routes() http.Handler {
	r := chi.NewRouter()

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Authorization", "Content-Type"},
	}))

	r.Handle("/metrics", promhttp.Handler())

	r.Group(func(r chi.Router) {
		r.Use(Handler(WithCanonlog(), WithRequestID(), WithSLOs()))
		r.Get("/health", g.handleHealth)
	})

	r.Route("/api", func(api chi.Router) {
		api.Use(Handler(WithCanonlog(), WithRequestID(), WithSLOs()))
		api.Use(MaxBodySize(1 << 20))

		// User profiles
		api.With(g.limitRead("profiles_list"), SLO(SLOCacheRead)).
			Get("/profiles", g.listProfiles)
		api.With(g.limitWrite("profiles_create"), SLO(SLOWrite)).
			Post("/profiles", g.createProfile)
		api.With(g.limitRead("profiles_get"), SLO(SLORelay)).
			Get("/profiles/{id}", g.getProfile)
		api.With(Authenticate(g.cfg.ClientID), g.limitRead("user_me"), SLO(SLORelay)).
			Get("/user/me", g.me)

		// Medication catalog
		api.With(g.limitRead("medications_list"), SLO(SLOCacheRead)).
			Get("/medications", g.listMedications)
		api.With(Authenticate(g.cfg.ClientID), RequireRole("PHARMACIST", "ADMIN"), g.limitWrite("medications_create"), SLO(SLOWrite)).
			Post("/medications", g.createMedication)
		api.With(g.limitRead("medications_popular"), SLO(SLOCacheRead)).
			Get("/medications/popular", g.popularMedications)
		api.With(g.limitRead("medications_get"), SLO(SLOCacheRead)).
			Get("/medications/{id:[0-9]+}", g.getMedication)
		api.With(g.limitRead("medication_stock"), SLO(SLOCacheRead)).
			Get("/medications/{name}/stock", g.medicationStock)

		// Pharmacies and pharmacists
		api.With(g.limitRead("pharmacies_list"), SLO(SLOCacheRead)).
			Get("/pharmacies", g.listPharmacies)
		api.With(Authenticate(g.cfg.ClientID), RequireRole("ADMIN"), g.limitWrite("pharmacies_create"), SLO(SLOWrite)).
			Post("/pharmacies", g.createPharmacy)
		api.With(g.limitRead("pharmacies_get"), SLO(SLORelay)).
			Get("/pharmacies/{id}", g.getPharmacy)
		api.With(g.limitRead("pharmacy_pharmacists"), SLO(SLORelay)).
			Get("/pharmacies/{id}/pharmacists", g.pharmacyPharmacists)
		api.With(g.limitRead("pharmacists_list"), SLO(SLORelay)).
			Get("/pharmacists", g.listPharmacists)
		api.With(g.limitRead("pharmacists_get"), SLO(SLORelay)).
			Get("/pharmacists/{id}", g.getPharmacist)
		api.With(Authenticate(g.cfg.ClientID), RequireRole("ADMIN"), g.limitWrite("pharmacists_create"), SLO(SLOWrite)).
			Post("/pharmacists", g.createPharmacist)

		// Stock
		api.With(g.limitRead("stock_get"), SLO(SLOCacheRead)).
			Get("/pharmacies/{id}/stock", g.pharmacyStock)
		api.With(Authenticate(g.cfg.ClientID), RequireRole("PHARMACIST"), g.limitWrite("stock_add"), SLO(SLOWrite)).
			Post("/pharmacies/{id}/stock", g.addStock)
		api.With(g.limitRead("stock_low"), SLO(SLORelay)).
			Get("/pharmacies/{id}/stock/low", g.lowStock)

		// Prescriptions
		api.With(Authenticate(g.cfg.ClientID), RequireRole("DOCTOR", "PHARMACIST", "ADMIN"), g.limitRead("prescriptions_list"), SLO(SLOCacheRead)).
			Get("/prescriptions", g.listPrescriptions)
		api.With(Authenticate(g.cfg.ClientID), RequireRole("DOCTOR"), g.limitWrite("prescriptions_create"), SLO(SLOWrite)).
			Post("/prescriptions", g.createPrescription)
		api.With(Authenticate(g.cfg.ClientID), g.limitRead("prescriptions_get"), SLO(SLORelay)).
			Get("/prescriptions/{id}", g.getPrescription)
		api.With(Authenticate(g.cfg.ClientID), RequireRole("PHARMACIST"), g.limitWrite("prescriptions_fulfill"), SLO(SLOWrite)).
			Post("/prescriptions/{id}/fulfill", g.fulfillPrescription)
		api.With(Authenticate(g.cfg.ClientID), RequireRole("DOCTOR", "ADMIN"), g.limitWrite("prescriptions_cancel"), SLO(SLOWrite)).
			Post("/prescriptions/{id}/cancel", g.cancelPrescription)
	})

	return r
}

func (g *Gateway) limitRead(operation string) func(http.Handler) http.Handler {
	return NewRateLimiter(g.store, operation, g.cfg.ReadLimit, g.cfg.RateWindow,
		RateLimitPerUser(), RateLimitWithLogger(g.log)).Handler
}

func (g *Gateway) limitWrite(operation string) func(http.Handler) http.Handler {
	return NewRateLimiter(g.store, operation, g.cfg.WriteLimit, g.cfg.RateWindow,
		RateLimitPerUser(), RateLimitWithLogger(g.log)).Handler
}

func (g *Gateway) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), time.Second)
	defer cancel()

	storeStatus := "available"
	if err := g.store.Ping(ctx); err != nil {
		storeStatus = "unavailable"
		SetStoreAvailable(false)
	} else {
		SetStoreAvailable(true)
	}

	SetResponse(r, http.StatusOK, map[string]string{
		"status":  "healthy",
		"service": "gateway-service",
		"store":   storeStatus,
	})
}
