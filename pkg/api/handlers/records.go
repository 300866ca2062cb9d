package handlers

import (
	"net/http"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"cipherfeed/pkg/logger"
	"cipherfeed/pkg/models"
	"cipherfeed/pkg/utils"
	"cipherfeed/pkg/validation"
)

// RegisterRecords registers the listen-record routes on the provided router.
func RegisterRecords(r *mux.Router, d *Deps) {
	// Collection route
	r.HandleFunc("/records", d.createRecord).Methods(http.MethodPost)

	// Single resource routes
	r.HandleFunc("/records/{id}", d.getRecord).Methods(http.MethodGet)
	r.HandleFunc("/records/{id}/decrypt", d.decryptRecord).Methods(http.MethodPost)
}

// createRecord handles POST /records to append a ciphertext bundle to the
// ledger. The body carries the three handles base64-encoded; the server
// stores them opaque and assigns the next sequential id.
func (d *Deps) createRecord(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	var bundle models.CipherBundle
	if err := utils.DecodeJSONBody(r, &bundle, d.MaxBodyBytes); err != nil {
		http.Error(w, `{"error":"invalid json"}`, http.StatusBadRequest)
		return
	}
	if err := validation.ValidateBundle(bundle); err != nil {
		utils.JSONError(w, http.StatusBadRequest, err.Error())
		return
	}
	rec, err := d.Ledger.Submit(bundle)
	if err != nil {
		writeLedgerError(w, err)
		return
	}
	_ = utils.JSONWrite(w, http.StatusCreated, struct {
		ID          uint64 `json:"id"`
		SubmittedTS int64  `json:"submitted_ts"`
	}{ID: rec.ID, SubmittedTS: rec.SubmittedTS})
}

// getRecord handles GET /records/{id} to read a record's projection. Unknown
// and not-yet-processed ids both answer with the zeroed projection rather
// than an error, so pollers can treat the endpoint uniformly.
func (d *Deps) getRecord(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	id, ok := recordIDVar(r)
	if !ok {
		http.Error(w, `{"error":"record id must be numeric"}`, http.StatusBadRequest)
		return
	}
	proj, err := d.Ledger.Projection(id)
	if err != nil {
		writeLedgerError(w, err)
		return
	}
	_ = utils.JSONWrite(w, http.StatusOK, struct {
		ID uint64 `json:"id"`
		models.Projection
	}{ID: id, Projection: proj})
}

// decryptRecord handles POST /records/{id}/decrypt to hand the record's
// handles to the oracle. Answers 202 with the correlation request id; the
// plaintext lands in the projection later, via the callback endpoint.
func (d *Deps) decryptRecord(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	id, ok := recordIDVar(r)
	if !ok {
		http.Error(w, `{"error":"record id must be numeric"}`, http.StatusBadRequest)
		return
	}
	reqID, err := d.Ledger.RequestRecordDecryption(r.Context(), id)
	if err != nil {
		writeLedgerError(w, err)
		return
	}
	logger.Log.Info("decrypt_accepted",
		zap.Uint64("record", id),
		zap.String("request", reqID))
	_ = utils.JSONWrite(w, http.StatusAccepted, struct {
		RequestID string `json:"request_id"`
	}{RequestID: reqID})
}
