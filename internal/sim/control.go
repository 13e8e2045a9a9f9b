package sim

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
)

// resourceBody is the lenient write-side payload the control plane accepts.
type resourceBody struct {
	Location string `json:"location"`
	SKU      *struct {
		Name string `json:"name"`
		Tier string `json:"tier"`
	} `json:"sku"`
	Properties *struct {
		ServerFarmID string `json:"serverFarmId"`
		Config       *struct {
			Bindings []map[string]any `json:"bindings"`
		} `json:"config"`
	} `json:"properties"`
}

func (s *Server) handleToken(c *gin.Context) {
	if c.PostForm("grant_type") != "client_credentials" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unsupported_grant_type"})
		return
	}
	id, secret := c.PostForm("client_id"), c.PostForm("client_secret")
	if id == "" || secret == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	if s.opts.ClientID != "" && (id != s.opts.ClientID || secret != s.opts.ClientSecret) {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid_client"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"access_token": s.state.issueToken(),
		"token_type":   "Bearer",
		"expires_in":   3600,
	})
}

func (s *Server) handlePutGroup(c *gin.Context) {
	var body resourceBody
	if err := c.ShouldBindJSON(&body); err != nil || body.Location == "" {
		vendorError(c, http.StatusBadRequest, "InvalidRequestContent", "location is required")
		return
	}
	name := c.Param("rg")
	s.state.putGroup(name, body.Location)
	s.logf("sim: resource group %s ready in %s", name, body.Location)
	c.JSON(http.StatusCreated, gin.H{
		"name":       name,
		"location":   body.Location,
		"properties": gin.H{"provisioningState": "Succeeded"},
	})
}

func (s *Server) handleGetGroup(c *gin.Context) {
	name := c.Param("rg")
	location, ok := s.state.groupInfo(name)
	if !ok {
		vendorError(c, http.StatusNotFound, "ResourceGroupNotFound", "resource group "+name+" does not exist")
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"name":       name,
		"location":   location,
		"properties": gin.H{"provisioningState": "Succeeded"},
	})
}

func (s *Server) handleDeleteGroup(c *gin.Context) {
	name := c.Param("rg")
	opID, ok := s.state.deleteGroup(name)
	if !ok {
		vendorError(c, http.StatusNotFound, "ResourceGroupNotFound", "resource group "+name+" does not exist")
		return
	}
	s.logf("sim: resource group %s delete accepted, operation %s", name, opID)
	c.Header("Location", s.BaseURL()+"/operations/"+opID)
	c.Status(http.StatusAccepted)
}

func (s *Server) handleOperation(c *gin.Context) {
	status, ok := s.state.operationStatus(c.Param("op"))
	if !ok {
		vendorError(c, http.StatusNotFound, "OperationNotFound", "unknown operation")
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": status})
}

func (s *Server) handlePutPlan(c *gin.Context) {
	var body resourceBody
	if err := c.ShouldBindJSON(&body); err != nil || body.Location == "" {
		vendorError(c, http.StatusBadRequest, "InvalidRequestContent", "location is required")
		return
	}
	group, plan := c.Param("rg"), c.Param("plan")
	if err := s.state.putPlan(group, plan, body.Location); err != nil {
		vendorError(c, http.StatusNotFound, "ResourceGroupNotFound", "resource group "+group+" does not exist")
		return
	}
	state, _ := s.state.planStatus(group, plan)
	c.JSON(http.StatusCreated, gin.H{
		"name":       plan,
		"location":   body.Location,
		"properties": gin.H{"provisioningState": state},
	})
}

func (s *Server) handleGetPlan(c *gin.Context) {
	group, plan := c.Param("rg"), c.Param("plan")
	state, err := s.state.planStatus(group, plan)
	if err != nil {
		code := "PlanNotFound"
		if errors.Is(err, errNoGroup) {
			code = "ResourceGroupNotFound"
		}
		vendorError(c, http.StatusNotFound, code, err.Error())
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"name":       plan,
		"properties": gin.H{"provisioningState": state},
	})
}

func (s *Server) handlePutSite(c *gin.Context) {
	var body resourceBody
	if err := c.ShouldBindJSON(&body); err != nil || body.Location == "" {
		vendorError(c, http.StatusBadRequest, "InvalidRequestContent", "location is required")
		return
	}
	if body.Properties == nil || body.Properties.ServerFarmID == "" {
		vendorError(c, http.StatusBadRequest, "InvalidRequestContent", "properties.serverFarmId is required")
		return
	}
	group, site := c.Param("rg"), c.Param("site")
	err := s.state.putSite(group, site, body.Properties.ServerFarmID, body.Location)
	switch {
	case errors.Is(err, errNoGroup):
		vendorError(c, http.StatusNotFound, "ResourceGroupNotFound", "resource group "+group+" does not exist")
		return
	case errors.Is(err, errNoPlan):
		vendorError(c, http.StatusBadRequest, "PlanNotFound", "serverFarmId does not reference a plan in this group")
		return
	}
	s.logf("sim: site %s accepted under %s", site, group)
	view, _ := s.state.siteInfo(group, site)
	c.JSON(http.StatusCreated, siteJSON(site, view))
}

func (s *Server) handleGetSite(c *gin.Context) {
	group, site := c.Param("rg"), c.Param("site")
	view, err := s.state.siteInfo(group, site)
	if err != nil {
		code := "SiteNotFound"
		if errors.Is(err, errNoGroup) {
			code = "ResourceGroupNotFound"
		}
		vendorError(c, http.StatusNotFound, code, err.Error())
		return
	}
	c.JSON(http.StatusOK, siteJSON(site, view))
}

func siteJSON(name string, view siteView) gin.H {
	return gin.H{
		"name":     name,
		"location": view.Location,
		"properties": gin.H{
			"provisioningState": view.State,
			"hostUrl":           view.HostURL,
			"scmUrl":            view.SCMURL,
		},
	}
}

func (s *Server) handlePutFunction(c *gin.Context) {
	var body resourceBody
	if err := c.ShouldBindJSON(&body); err != nil || body.Properties == nil || body.Properties.Config == nil || len(body.Properties.Config.Bindings) == 0 {
		vendorError(c, http.StatusBadRequest, "FunctionConfigInvalid", "properties.config.bindings must not be empty")
		return
	}
	group, site, fn := c.Param("rg"), c.Param("site"), c.Param("fn")
	err := s.state.putFunction(group, site, fn, len(body.Properties.Config.Bindings))
	switch {
	case errors.Is(err, errNoGroup):
		vendorError(c, http.StatusNotFound, "ResourceGroupNotFound", "resource group "+group+" does not exist")
		return
	case errors.Is(err, errNoSite):
		vendorError(c, http.StatusNotFound, "SiteNotFound", "site "+site+" does not exist")
		return
	}
	s.logf("sim: function %s registered under %s", fn, site)
	c.JSON(http.StatusCreated, gin.H{
		"name": fn,
		"properties": gin.H{
			"invokeUrl": s.BaseURL() + "/apps/" + site + "/api/" + fn,
		},
	})
}

func (s *Server) handlePublishCreds(c *gin.Context) {
	group, site := c.Param("rg"), c.Param("site")
	user, pass, scmURL, err := s.state.publishCreds(group, site)
	if err != nil {
		code := "SiteNotFound"
		if errors.Is(err, errNoGroup) {
			code = "ResourceGroupNotFound"
		}
		vendorError(c, http.StatusNotFound, code, err.Error())
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"properties": gin.H{
			"publishingUserName": user,
			"publishingPassword": pass,
			"scmUrl":             scmURL,
		},
	})
}
