package server

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	assignmentdomain "github.com/smallbiznis/cooptariff/internal/assignment/domain"
)

func (s *Server) CreateAssignment(c *gin.Context) {
	var req assignmentdomain.CreateAssignmentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	resp, err := s.assignments.CreateAssignment(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{"data": resp})
}

func (s *Server) ListAssignments(c *gin.Context) {
	var query struct {
		ServiceID      string `form:"service_id"`
		Scope          string `form:"scope"`
		ApartmentID    string `form:"apartment_id"`
		EntranceNumber string `form:"entrance_number"`
		Active         string `form:"active"`
	}
	if err := c.ShouldBindQuery(&query); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	apartmentID, err := parseOptionalInt64(query.ApartmentID)
	if err != nil {
		AbortWithError(c, newValidationError("apartment_id", "invalid_apartment_id", "invalid apartment_id"))
		return
	}
	entrance, err := parseOptionalInt(query.EntranceNumber)
	if err != nil {
		AbortWithError(c, newValidationError("entrance_number", "invalid_entrance_number", "invalid entrance_number"))
		return
	}
	active, err := parseOptionalBool(query.Active)
	if err != nil {
		AbortWithError(c, newValidationError("active", "invalid_active", "invalid active"))
		return
	}

	resp, err := s.assignments.ListAssignments(c.Request.Context(), assignmentdomain.ListAssignmentsRequest{
		ServiceID:      strings.TrimSpace(query.ServiceID),
		Scope:          strings.TrimSpace(query.Scope),
		ApartmentID:    apartmentID,
		EntranceNumber: entrance,
		Active:         active,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (s *Server) GetAssignment(c *gin.Context) {
	resp, err := s.assignments.GetAssignment(c.Request.Context(), strings.TrimSpace(c.Param("id")))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (s *Server) UpdateAssignment(c *gin.Context) {
	var patch assignmentdomain.AssignmentPatch
	if err := c.ShouldBindJSON(&patch); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	resp, err := s.assignments.UpdateAssignment(c.Request.Context(), strings.TrimSpace(c.Param("id")), patch)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (s *Server) ToggleAssignment(c *gin.Context) {
	resp, err := s.assignments.ToggleAssignment(c.Request.Context(), strings.TrimSpace(c.Param("id")))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (s *Server) DeleteAssignment(c *gin.Context) {
	if err := s.assignments.DeleteAssignment(c.Request.Context(), strings.TrimSpace(c.Param("id"))); err != nil {
		AbortWithError(c, err)
		return
	}

	c.Status(http.StatusNoContent)
}

func (s *Server) ListAssignmentTariffs(c *gin.Context) {
	resp, err := s.assignments.ListAssignmentTariffs(c.Request.Context(), strings.TrimSpace(c.Param("id")))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (s *Server) ListOrphanedTariffs(c *gin.Context) {
	resp, err := s.assignments.ListOrphanedTariffs(c.Request.Context())
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (s *Server) ReplaceAssignmentRate(c *gin.Context) {
	var req assignmentdomain.ReplaceAssignmentRateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	resp, err := s.assignments.ReplaceAssignmentRate(c.Request.Context(), strings.TrimSpace(c.Param("id")), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (s *Server) DeleteAssignmentTariff(c *gin.Context) {
	if err := s.assignments.DeleteAssignmentTariff(c.Request.Context(), strings.TrimSpace(c.Param("id"))); err != nil {
		AbortWithError(c, err)
		return
	}

	c.Status(http.StatusNoContent)
}
