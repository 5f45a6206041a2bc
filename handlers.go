package medigate

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/medihelp/medigate/cache"
	"github.com/medihelp/medigate/identity"
	"github.com/medihelp/medigate/proxy"
	"github.com/medihelp/medigate/store"
)

// relay forwards the request to the downstream and stages its response
// verbatim. A transport failure is synthesized into a 502 naming the
// downstream; HTTP-level failures are relayed as-is. Returns the downstream
// response, or nil when the downstream was unreachable.
func (g *Gateway) relay(r *http.Request, dst *proxy.Client, method, path string, query url.Values, headers http.Header, body []byte) *proxy.Response {
	res, err := dst.Do(r.Context(), method, path, query, headers, body)
	if err != nil {
		SetError(r, NewDownstreamError(dst.Name(), err))
		return nil
	}
	SetRawResponse(r, res.Status, res.ContentType, res.Body)
	return res
}

// cachedRelay is the cache-aside read path: serve the cached bytes on a hit,
// otherwise relay to the downstream and cache a 200 body under key for ttl.
// Non-200 responses are relayed but never cached.
func (g *Gateway) cachedRelay(r *http.Request, dst *proxy.Client, path string, query url.Values, headers http.Header, prefix, key string, ttl time.Duration) {
	if body, ok := g.cache.Get(r.Context(), key); ok {
		ObserveCacheResult(prefix, "hit")
		SetRawResponse(r, http.StatusOK, "application/json", body)
		return
	}
	ObserveCacheResult(prefix, "miss")

	res, err := dst.Do(r.Context(), http.MethodGet, path, query, headers, nil)
	if err != nil {
		SetError(r, NewDownstreamError(dst.Name(), err))
		return
	}
	if res.Status == http.StatusOK {
		g.cache.Set(r.Context(), key, res.Body, ttl)
	}
	SetRawResponse(r, res.Status, res.ContentType, res.Body)
}

// bindBody reads and validates a write payload, returning the raw bytes for
// verbatim relay so the downstream sees exactly what the caller sent.
func (g *Gateway) bindBody(r *http.Request, dest any) ([]byte, bool) {
	raw, err := io.ReadAll(r.Body)
	if err != nil {
		var maxBytesErr *http.MaxBytesError
		if errors.As(err, &maxBytesErr) {
			SetError(r, ErrPayloadTooLarge.With("Request body too large"))
		} else {
			SetError(r, ErrBadRequest.With("Unable to read request body"))
		}
		return nil, false
	}

	if err := json.Unmarshal(raw, dest); err != nil {
		SetError(r, ErrBadRequest.With("Invalid JSON request body"))
		return nil, false
	}
	if err := validate.Struct(dest); err != nil {
		SetError(r, NewValidationError(translateErrors(err)))
		return nil, false
	}
	return raw, true
}

// urlID parses a numeric URL parameter, rejecting anything that is not a
// positive integer before it reaches a downstream.
func urlID(r *http.Request, param string) (int, bool) {
	id, err := strconv.Atoi(chi.URLParam(r, param))
	if err != nil || id <= 0 {
		SetError(r, ErrBadRequest.WithParam(param+" must be a positive integer", param))
		return 0, false
	}
	return id, true
}

// identityHeaders builds the caller-identity headers the downstream services
// consume. The primary role resolves role priority for services that keep a
// single role column.
func identityHeaders(r *http.Request) http.Header {
	id, ok := IdentityFromContext(r.Context())
	if !ok {
		return nil
	}
	h := make(http.Header)
	h.Set("X-Username", id.Username)
	h.Set("X-Roles", strings.Join(id.Roles, ","))
	h.Set("X-Primary-Role", identity.PrimaryRole(id.Roles))
	return h
}

// --- User profiles ---

type createProfileRequest struct {
	Username string `json:"username" validate:"required"`
	Email    string `json:"email" validate:"required,email"`
	FullName string `json:"full_name"`
}

func (g *Gateway) listProfiles(w http.ResponseWriter, r *http.Request) {
	g.cachedRelay(r, g.users, "/profiles", nil, nil,
		"profiles", cache.Key("profiles", "all"), cache.TTLCatalog)
}

func (g *Gateway) createProfile(w http.ResponseWriter, r *http.Request) {
	var req createProfileRequest
	body, ok := g.bindBody(r, &req)
	if !ok {
		return
	}

	res := g.relay(r, g.users, http.MethodPost, "/profiles", nil, nil, body)
	if res != nil && res.OK() {
		g.cache.Invalidate(r.Context(), "profiles:*")
	}
}

func (g *Gateway) getProfile(w http.ResponseWriter, r *http.Request) {
	id, ok := urlID(r, "id")
	if !ok {
		return
	}
	g.relay(r, g.users, http.MethodGet, fmt.Sprintf("/profiles/%d", id), nil, nil, nil)
}

func (g *Gateway) me(w http.ResponseWriter, r *http.Request) {
	g.relay(r, g.users, http.MethodGet, "/user/me", nil, identityHeaders(r), nil)
}

// --- Medication catalog ---

type createMedicationRequest struct {
	Name                 string   `json:"name" validate:"required"`
	Description          string   `json:"description"`
	Price                *float64 `json:"price" validate:"required,gte=0"`
	RequiresPrescription bool     `json:"requires_prescription"`
}

type popularQuery struct {
	Limit int `query:"limit" validate:"omitempty,gt=0,lte=100"`
}

func (g *Gateway) listMedications(w http.ResponseWriter, r *http.Request) {
	key := cache.Key("medications", "all")

	if body, ok := g.cache.Get(r.Context(), key); ok {
		ObserveCacheResult("medications", "hit")
		SetRawResponse(r, http.StatusOK, "application/json", body)
		return
	}
	ObserveCacheResult("medications", "miss")

	res, err := g.inventory.Get(r.Context(), "/medications", nil)
	if err != nil {
		SetError(r, NewDownstreamError(g.inventory.Name(), err))
		return
	}
	if res.Status != http.StatusOK {
		SetRawResponse(r, res.Status, res.ContentType, res.Body)
		return
	}

	body := g.annotatePopularity(r.Context(), res.Body)
	g.cache.Set(r.Context(), key, body, cache.TTLCatalog)
	SetRawResponse(r, http.StatusOK, "application/json", body)
}

// annotatePopularity merges a popular flag into each catalog entry from the
// current top-N ranking. Any shape surprise leaves the body untouched; the
// flag is decoration, never a reason to fail a catalog read.
func (g *Gateway) annotatePopularity(ctx context.Context, body []byte) []byte {
	top, err := g.ranker.TopN(ctx, popularTopN)
	if err != nil || len(top) == 0 {
		return body
	}
	popular := make(map[string]bool, len(top))
	for _, m := range top {
		popular[m.Member] = true
	}

	var entries []map[string]any
	if err := json.Unmarshal(body, &entries); err != nil {
		return body
	}
	for _, e := range entries {
		name, _ := e["name"].(string)
		e["popular"] = popular[name]
	}

	annotated, err := json.Marshal(entries)
	if err != nil {
		return body
	}
	return annotated
}

func (g *Gateway) createMedication(w http.ResponseWriter, r *http.Request) {
	var req createMedicationRequest
	body, ok := g.bindBody(r, &req)
	if !ok {
		return
	}

	res := g.relay(r, g.inventory, http.MethodPost, "/medications", nil, nil, body)
	if res != nil && res.OK() {
		g.cache.Invalidate(r.Context(), "medications:*", "medication:*")
	}
}

func (g *Gateway) popularMedications(w http.ResponseWriter, r *http.Request) {
	q := popularQuery{Limit: popularTopN}
	if !Query(r, &q) {
		return
	}

	top, err := g.ranker.TopN(r.Context(), int64(q.Limit))
	if err != nil {
		// Ranking is derived data; with the store down an empty board is
		// more useful than an error.
		g.log.WithError(err).Warn("popularity ranking unavailable")
		top = nil
	}
	if top == nil {
		top = []store.ScoredMember{}
	}
	SetResponse(r, http.StatusOK, top)
}

func (g *Gateway) getMedication(w http.ResponseWriter, r *http.Request) {
	id, ok := urlID(r, "id")
	if !ok {
		return
	}
	g.cachedRelay(r, g.inventory, fmt.Sprintf("/medications/%d", id), nil, nil,
		"medication", cache.Key("medication", strconv.Itoa(id)), cache.TTLCatalog)
}

func (g *Gateway) medicationStock(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	if name == "" {
		SetError(r, ErrBadRequest.WithParam("medication name is required", "name"))
		return
	}

	ttl := cache.AdaptiveTTL(g.ranker.IsPopular(r.Context(), name, popularTopN))
	g.cachedRelay(r, g.inventory, "/medications/"+url.PathEscape(name)+"/stock", nil, nil,
		"medication_stock", cache.Key("medication_stock", name), ttl)
}

// --- Pharmacies and pharmacists ---

type createPharmacyRequest struct {
	Name    string `json:"name" validate:"required"`
	Address string `json:"address" validate:"required"`
	Phone   string `json:"phone"`
}

type createPharmacistRequest struct {
	Name       string `json:"name" validate:"required"`
	Email      string `json:"email" validate:"required,email"`
	PharmacyID *int   `json:"pharmacy_id" validate:"required,gt=0"`
}

type listPharmaciesQuery struct {
	ActiveOnly bool `query:"active_only"`
}

func (g *Gateway) listPharmacies(w http.ResponseWriter, r *http.Request) {
	var q listPharmaciesQuery
	if !Query(r, &q) {
		return
	}

	query := url.Values{}
	if q.ActiveOnly {
		query.Set("active_only", "true")
	}
	g.cachedRelay(r, g.pharmacies, "/pharmacies", query, nil,
		"pharmacies", cache.Key("pharmacies", "all", strconv.FormatBool(q.ActiveOnly)), cache.TTLCatalog)
}

func (g *Gateway) createPharmacy(w http.ResponseWriter, r *http.Request) {
	var req createPharmacyRequest
	body, ok := g.bindBody(r, &req)
	if !ok {
		return
	}

	res := g.relay(r, g.pharmacies, http.MethodPost, "/pharmacies", nil, nil, body)
	if res != nil && res.OK() {
		g.cache.Invalidate(r.Context(), "pharmacies:*")
	}
}

func (g *Gateway) getPharmacy(w http.ResponseWriter, r *http.Request) {
	id, ok := urlID(r, "id")
	if !ok {
		return
	}
	g.relay(r, g.pharmacies, http.MethodGet, fmt.Sprintf("/pharmacies/%d", id), nil, nil, nil)
}

func (g *Gateway) pharmacyPharmacists(w http.ResponseWriter, r *http.Request) {
	id, ok := urlID(r, "id")
	if !ok {
		return
	}
	g.relay(r, g.pharmacies, http.MethodGet, fmt.Sprintf("/pharmacies/%d/pharmacists", id), nil, nil, nil)
}

func (g *Gateway) listPharmacists(w http.ResponseWriter, r *http.Request) {
	g.relay(r, g.pharmacies, http.MethodGet, "/pharmacists", nil, nil, nil)
}

func (g *Gateway) getPharmacist(w http.ResponseWriter, r *http.Request) {
	id, ok := urlID(r, "id")
	if !ok {
		return
	}
	g.relay(r, g.pharmacies, http.MethodGet, fmt.Sprintf("/pharmacists/%d", id), nil, nil, nil)
}

func (g *Gateway) createPharmacist(w http.ResponseWriter, r *http.Request) {
	var req createPharmacistRequest
	body, ok := g.bindBody(r, &req)
	if !ok {
		return
	}
	g.relay(r, g.pharmacies, http.MethodPost, "/pharmacists", nil, nil, body)
}

// --- Stock ---

type addStockRequest struct {
	MedicationID *int `json:"medication_id" validate:"required,gt=0"`
	Quantity     *int `json:"quantity" validate:"required,gt=0"`
}

type lowStockQuery struct {
	Threshold int `query:"threshold" validate:"omitempty,gt=0"`
}

func (g *Gateway) pharmacyStock(w http.ResponseWriter, r *http.Request) {
	id, ok := urlID(r, "id")
	if !ok {
		return
	}
	g.cachedRelay(r, g.inventory, fmt.Sprintf("/pharmacies/%d/stock", id), nil, nil,
		"pharmacy_stock", cache.Key("pharmacy_stock", strconv.Itoa(id)), cache.TTLVolatile)
}

func (g *Gateway) addStock(w http.ResponseWriter, r *http.Request) {
	id, ok := urlID(r, "id")
	if !ok {
		return
	}
	var req addStockRequest
	body, ok := g.bindBody(r, &req)
	if !ok {
		return
	}

	res := g.relay(r, g.inventory, http.MethodPost, fmt.Sprintf("/pharmacies/%d/stock", id), nil, nil, body)
	if res != nil && res.OK() {
		// The exact per-pharmacy key plus the whole derived view: a stock
		// write at pharmacy 3 must not evict pharmacy 33.
		g.cache.Invalidate(r.Context(), cache.Key("pharmacy_stock", strconv.Itoa(id)), "medication_stock:*")
	}
}

func (g *Gateway) lowStock(w http.ResponseWriter, r *http.Request) {
	id, ok := urlID(r, "id")
	if !ok {
		return
	}
	var q lowStockQuery
	if !Query(r, &q) {
		return
	}

	query := url.Values{}
	if q.Threshold > 0 {
		query.Set("threshold", strconv.Itoa(q.Threshold))
	}
	g.relay(r, g.inventory, http.MethodGet, fmt.Sprintf("/pharmacies/%d/stock/low", id), query, nil, nil)
}

// --- Prescriptions ---

type createPrescriptionRequest struct {
	PatientUsername string `json:"patient_username" validate:"required"`
	MedicationName  string `json:"medication_name" validate:"required"`
	Dosage          string `json:"dosage"`
	Quantity        *int   `json:"quantity" validate:"required,gt=0"`
	PharmacyID      *int   `json:"pharmacy_id" validate:"required,gt=0"`
}

type listPrescriptionsQuery struct {
	DoctorID   string `query:"doctor_id"`
	PatientID  string `query:"patient_id"`
	PharmacyID int    `query:"pharmacy_id" validate:"omitempty,gt=0"`
	Status     string `query:"status" validate:"omitempty,oneof=PENDING FULFILLED CANCELLED"`
}

func (g *Gateway) listPrescriptions(w http.ResponseWriter, r *http.Request) {
	var q listPrescriptionsQuery
	if !Query(r, &q) {
		return
	}

	query := url.Values{}
	if q.DoctorID != "" {
		query.Set("doctor_id", q.DoctorID)
	}
	if q.PatientID != "" {
		query.Set("patient_id", q.PatientID)
	}
	if q.PharmacyID > 0 {
		query.Set("pharmacy_id", strconv.Itoa(q.PharmacyID))
	}
	if q.Status != "" {
		query.Set("status", q.Status)
	}

	// Filter tuple in fixed field order so identical queries share a key.
	key := cache.Key("prescriptions", "list",
		q.DoctorID, q.PatientID, strconv.Itoa(q.PharmacyID), q.Status)
	g.cachedRelay(r, g.prescriptions, "/prescriptions", query, identityHeaders(r),
		"prescriptions", key, cache.TTLVolatile)
}

func (g *Gateway) createPrescription(w http.ResponseWriter, r *http.Request) {
	var req createPrescriptionRequest
	body, ok := g.bindBody(r, &req)
	if !ok {
		return
	}

	res := g.relay(r, g.prescriptions, http.MethodPost, "/prescriptions", nil, identityHeaders(r), body)
	if res != nil && res.OK() {
		g.cache.Invalidate(r.Context(), "prescriptions:*")
		g.ranker.Record(req.MedicationName)
	}
}

func (g *Gateway) getPrescription(w http.ResponseWriter, r *http.Request) {
	id, ok := urlID(r, "id")
	if !ok {
		return
	}
	g.relay(r, g.prescriptions, http.MethodGet, fmt.Sprintf("/prescriptions/%d", id), nil, identityHeaders(r), nil)
}

func (g *Gateway) fulfillPrescription(w http.ResponseWriter, r *http.Request) {
	id, ok := urlID(r, "id")
	if !ok {
		return
	}

	res := g.relay(r, g.prescriptions, http.MethodPost,
		fmt.Sprintf("/prescriptions/%d/fulfill", id), nil, identityHeaders(r), nil)
	if res == nil || !res.OK() {
		return
	}

	g.settleFulfillment(r.Context(), id)
	g.cache.Invalidate(r.Context(), "prescriptions:*", "pharmacy_stock:*", "medication_stock:*")
}

// settleFulfillment applies the stock deduction for a fulfilled prescription:
// fetch the prescription, match the pharmacy's stock line by medication name,
// post the deduction. Strictly best-effort; the fulfillment already happened
// and stands regardless, so every failure here is logged and swallowed.
func (g *Gateway) settleFulfillment(ctx context.Context, prescriptionID int) {
	log := g.log.WithField("prescription_id", prescriptionID)

	res, err := g.prescriptions.Get(ctx, fmt.Sprintf("/prescriptions/%d", prescriptionID), nil)
	if err != nil || !res.OK() {
		log.WithError(err).Warn("stock deduction skipped: prescription fetch failed")
		return
	}

	var p struct {
		MedicationName string `json:"medication_name"`
		Quantity       int    `json:"quantity"`
		PharmacyID     int    `json:"pharmacy_id"`
	}
	if err := json.Unmarshal(res.Body, &p); err != nil || p.MedicationName == "" || p.PharmacyID <= 0 {
		log.Warn("stock deduction skipped: prescription response not usable")
		return
	}
	g.ranker.Record(p.MedicationName)

	lines, err := g.inventory.StockFor(ctx, p.PharmacyID)
	if err != nil {
		log.WithError(err).Warn("stock deduction skipped: stock listing failed")
		return
	}

	for _, line := range lines {
		if line.MedicationName != p.MedicationName {
			continue
		}
		if err := g.inventory.Deduct(ctx, p.PharmacyID, line.MedicationID, p.Quantity); err != nil {
			log.WithError(err).WithField("medication", p.MedicationName).Warn("stock deduction failed")
		}
		return
	}
	log.WithField("medication", p.MedicationName).Warn("stock deduction skipped: no matching stock line")
}

func (g *Gateway) cancelPrescription(w http.ResponseWriter, r *http.Request) {
	id, ok := urlID(r, "id")
	if !ok {
		return
	}

	res := g.relay(r, g.prescriptions, http.MethodPost,
		fmt.Sprintf("/prescriptions/%d/cancel", id), nil, identityHeaders(r), nil)
	if res != nil && res.OK() {
		g.cache.Invalidate(r.Context(), "prescriptions:*")
	}
}
