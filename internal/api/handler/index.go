package handler

import (
	"net/http"

	"github.com/edvin/messaging/internal/api/response"
)

const apiVersion = "0.1"

// Index answers the messaging API root.
type Index struct {
	serviceName string
}

func NewIndex(serviceName string) *Index {
	return &Index{serviceName: serviceName}
}

func (h *Index) Get(w http.ResponseWriter, _ *http.Request) {
	response.WriteJSON(w, http.StatusOK, map[string]string{
		"service": h.serviceName,
		"title":   "Messaging API",
		"version": apiVersion,
	})
}
