package main

import (
	"net/http"
	"net/url"

	"github.com/gin-gonic/gin"
)

// query parameters forwarded to the data API; anything else is dropped
var forwardedParams = []string{"department_id", "institution_id", "year", "search", "page", "limit", "mentor_id", "city"}

func forwardQuery(c *gin.Context) url.Values {
	out := url.Values{}
	for _, k := range forwardedParams {
		if v := c.Query(k); v != "" {
			out.Set(k, v)
		}
	}
	return out
}

func (a *app) listStudentsHandler(c *gin.Context) {
	students, err := a.data.ListStudents(c.Request.Context(), forwardQuery(c))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": students, "count": len(students)})
}

func (a *app) getStudentHandler(c *gin.Context) {
	s, err := a.data.GetStudent(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, s)
}

func (a *app) listStaffHandler(c *gin.Context) {
	staff, err := a.data.ListStaff(c.Request.Context(), forwardQuery(c))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": staff, "count": len(staff)})
}

func (a *app) listInstitutionsHandler(c *gin.Context) {
	inst, err := a.data.ListInstitutions(c.Request.Context(), forwardQuery(c))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": inst, "count": len(inst)})
}
