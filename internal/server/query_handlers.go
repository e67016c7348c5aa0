package server

import (
	"net/http"
	"strconv"
	"time"

	"github.com/condoleads/condoleads-sub001/internal/listings"
	"github.com/gin-gonic/gin"
)

type entityPayload struct {
	ID           string              `json:"id"`
	Name         string              `json:"name"`
	StreetNumber string              `json:"street_number"`
	StreetName   string              `json:"street_name"`
	City         string              `json:"city"`
	LastSyncedAt *time.Time          `json:"last_synced_at,omitempty"`
	SyncStatus   listings.SyncStatus `json:"sync_status"`
}

type listingPayload struct {
	ID                string         `json:"id"`
	ListingKey        string         `json:"listing_key"`
	MLSNumber         string         `json:"mls_number,omitempty"`
	Address           string         `json:"address"`
	UnitNumber        string         `json:"unit_number,omitempty"`
	TransactionType   string         `json:"transaction_type"`
	Status            string         `json:"status"`
	StandardStatus    string         `json:"standard_status"`
	MlsStatus         string         `json:"mls_status"`
	ListPrice         float64        `json:"list_price"`
	ClosePrice        *float64       `json:"close_price,omitempty"`
	CloseDate         *time.Time     `json:"close_date,omitempty"`
	BedroomsTotal     *int           `json:"bedrooms_total,omitempty"`
	BathroomsTotal    *int           `json:"bathrooms_total,omitempty"`
	Attributes        map[string]any `json:"attributes,omitempty"`
	IsCurrent         bool           `json:"is_current"`
	LastSeenAt        time.Time      `json:"last_seen_at"`
	RemovedAt         *time.Time     `json:"removed_at,omitempty"`
	OriginalListPrice *float64       `json:"original_list_price,omitempty"`
}

type priceChangePayload struct {
	ListingKey string    `json:"listing_key"`
	OldPrice   float64   `json:"old_price"`
	NewPrice   float64   `json:"new_price"`
	Delta      float64   `json:"delta"`
	DeltaPct   float64   `json:"delta_pct"`
	DetectedAt time.Time `json:"detected_at"`
}

type auditPayload struct {
	ID           string              `json:"id"`
	BatchID      string              `json:"batch_id,omitempty"`
	Mode         string              `json:"mode"`
	Found        int                 `json:"found"`
	Created      int                 `json:"created"`
	Updated      int                 `json:"updated"`
	Removed      int                 `json:"removed"`
	Unchanged    int                 `json:"unchanged"`
	Status       listings.SyncStatus `json:"status"`
	ErrorSummary string              `json:"error_summary,omitempty"`
	StartedAt    time.Time           `json:"started_at"`
	FinishedAt   time.Time           `json:"finished_at"`
}

func (h *httpHandler) handleListEntities(c *gin.Context) {
	entities, err := h.listings.ListEntities(c.Request.Context())
	if err != nil {
		h.respondError(c, "list_entities", err)
		return
	}
	response := make([]entityPayload, 0, len(entities))
	for _, entity := range entities {
		response = append(response, entityPayload{
			ID:           entity.ID,
			Name:         entity.DisplayName(),
			StreetNumber: entity.StreetNumber,
			StreetName:   entity.StreetName,
			City:         entity.City,
			LastSyncedAt: entity.LastSyncedAt,
			SyncStatus:   entity.SyncStatus,
		})
	}
	c.JSON(http.StatusOK, gin.H{"entities": response})
}

func (h *httpHandler) handleListListings(c *gin.Context) {
	entityID, ok := h.requireEntity(c, "list_listings")
	if !ok {
		return
	}
	includeRemoved, err := strconv.ParseBool(c.DefaultQuery("include_removed", "false"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_include_removed"})
		return
	}
	stored, err := h.listings.ListListings(c.Request.Context(), entityID, includeRemoved)
	if err != nil {
		h.respondError(c, "list_listings", err)
		return
	}
	response := make([]listingPayload, 0, len(stored))
	for _, listing := range stored {
		response = append(response, listingPayload{
			ID:                listing.ID,
			ListingKey:        listing.ListingKey,
			MLSNumber:         listing.MLSNumber,
			Address:           listingAddress(listing),
			UnitNumber:        listing.UnitNumber,
			TransactionType:   listing.TransactionType,
			Status:            string(listing.Status),
			StandardStatus:    listing.StandardStatus,
			MlsStatus:         listing.MlsStatus,
			ListPrice:         listing.ListPrice,
			ClosePrice:        listing.ClosePrice,
			OriginalListPrice: listing.OriginalListPrice,
			CloseDate:         listing.CloseDate,
			BedroomsTotal:     listing.BedroomsTotal,
			BathroomsTotal:    listing.BathroomsTotal,
			Attributes:        listing.Attributes,
			IsCurrent:         listing.IsCurrent,
			LastSeenAt:        listing.LastSeenAt,
			RemovedAt:         listing.RemovedAt,
		})
	}
	c.JSON(http.StatusOK, gin.H{"entity_id": entityID, "listings": response})
}

func (h *httpHandler) handlePriceHistory(c *gin.Context) {
	entityID, ok := h.requireEntity(c, "price_history")
	if !ok {
		return
	}
	history, err := h.listings.ListPriceHistory(c.Request.Context(), entityID)
	if err != nil {
		h.respondError(c, "price_history", err)
		return
	}
	response := make([]priceChangePayload, 0, len(history))
	for _, entry := range history {
		response = append(response, priceChangePayload{
			ListingKey: entry.ListingKey,
			OldPrice:   entry.OldPrice,
			NewPrice:   entry.NewPrice,
			Delta:      entry.Delta,
			DeltaPct:   entry.DeltaPct,
			DetectedAt: entry.DetectedAt,
		})
	}
	c.JSON(http.StatusOK, gin.H{"entity_id": entityID, "price_history": response})
}

func (h *httpHandler) handleAudits(c *gin.Context) {
	entityID, ok := h.requireEntity(c, "audits")
	if !ok {
		return
	}
	audits, err := h.listings.ListSyncAudits(c.Request.Context(), entityID)
	if err != nil {
		h.respondError(c, "audits", err)
		return
	}
	response := make([]auditPayload, 0, len(audits))
	for _, audit := range audits {
		response = append(response, auditPayload{
			ID:           audit.ID,
			BatchID:      audit.BatchID,
			Mode:         audit.Mode,
			Found:        audit.Found,
			Created:      audit.Created,
			Updated:      audit.Updated,
			Removed:      audit.Removed,
			Unchanged:    audit.Unchanged,
			Status:       audit.Status,
			ErrorSummary: audit.ErrorSummary,
			StartedAt:    audit.StartedAt,
			FinishedAt:   audit.FinishedAt,
		})
	}
	c.JSON(http.StatusOK, gin.H{"entity_id": entityID, "audits": response})
}

func (h *httpHandler) requireEntity(c *gin.Context, operation string) (string, bool) {
	entityID := c.Param("entityID")
	if _, err := h.listings.GetEntity(c.Request.Context(), entityID); err != nil {
		h.respondError(c, operation, err)
		return "", false
	}
	return entityID, true
}

func listingAddress(listing listings.StoredListing) string {
	record := listings.ListingRecord{
		StreetNumber:    listing.StreetNumber,
		StreetName:      listing.StreetName,
		StreetSuffix:    listing.StreetSuffix,
		UnparsedAddress: listing.UnparsedAddress,
	}
	return record.AddressLine()
}
