package callrecord

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/studypair/callkit/internal/domain"
)

type initiateRequest struct {
	RecipientID domain.UserID   `json:"recipientId"`
	CallType    domain.CallType `json:"callType"`
}

// RegisterRoutes mounts the call-record API under rg. The auth middleware
// upstream has already put the caller's id into the "user_id" context key.
func RegisterRoutes(rg *gin.RouterGroup, svc *Service) {
	rg.POST("/calls/initiate", handleInitiate(svc))
	rg.PATCH("/calls/:callId", handleFinalize(svc))
	rg.GET("/calls/history", handleHistory(svc))
	rg.GET("/calls/:callId", handleGet(svc))
}

func handleInitiate(svc *Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req initiateRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid body"})
			return
		}
		caller := domain.UserID(c.GetString("user_id"))
		rec, err := svc.Initiate(c.Request.Context(), caller, req.RecipientID, req.CallType)
		if err != nil {
			switch {
			case errors.Is(err, ErrSelfCall), errors.Is(err, ErrUnknownType), errors.Is(err, ErrMissingParty):
				c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			default:
				c.JSON(http.StatusInternalServerError, gin.H{"error": "could not create call"})
			}
			return
		}
		c.JSON(http.StatusCreated, rec)
	}
}

func handleFinalize(svc *Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		var fin Finalization
		if err := c.ShouldBindJSON(&fin); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid body"})
			return
		}
		rec, err := svc.Finalize(c.Request.Context(), domain.CallID(c.Param("callId")), fin)
		if err != nil {
			switch {
			case errors.Is(err, ErrNotFound):
				c.JSON(http.StatusNotFound, gin.H{"error": "call not found"})
			case errors.Is(err, ErrInvalidStatus):
				c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			default:
				c.JSON(http.StatusInternalServerError, gin.H{"error": "could not finalize call"})
			}
			return
		}
		c.JSON(http.StatusOK, rec)
	}
}

func handleHistory(svc *Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		uid := domain.UserID(c.GetString("user_id"))
		limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
		recs, err := svc.History(c.Request.Context(), uid, limit)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "could not load history"})
			return
		}
		if recs == nil {
			recs = []*Record{}
		}
		c.JSON(http.StatusOK, gin.H{"calls": recs})
	}
}

func handleGet(svc *Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		rec, err := svc.Get(c.Request.Context(), domain.CallID(c.Param("callId")))
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				c.JSON(http.StatusNotFound, gin.H{"error": "call not found"})
				return
			}
			c.JSON(http.StatusInternalServerError, gin.H{"error": "could not load call"})
			return
		}
		c.JSON(http.StatusOK, rec)
	}
}
