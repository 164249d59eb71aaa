package handler

import (
	"log"
	"net/http"

	"github.com/gin-gonic/gin"

	"roster/internal/auth"
)

type registerRequest struct {
	Username string `json:"username" binding:"required"`
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required"`
}

func (h *Handler) Register(c *gin.Context) {
	var req registerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	reg, err := h.accounts.Register(c.Request.Context(), req.Username, req.Email, req.Password)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, reg)
}

type verifyRequest struct {
	Email string `json:"email" binding:"required,email"`
	Code  string `json:"code" binding:"required"`
}

func (h *Handler) VerifyEmail(c *gin.Context) {
	var req verifyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := h.accounts.VerifyEmail(c.Request.Context(), req.Email, req.Code); err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"verified": true})
}

type emailRequest struct {
	Email string `json:"email" binding:"required,email"`
}

func (h *Handler) ResendVerification(c *gin.Context) {
	var req emailRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := h.accounts.ResendVerificationCode(c.Request.Context(), req.Email); err != nil {
		fail(c, err)
		return
	}
	c.Status(http.StatusAccepted)
}

type loginRequest struct {
	Identifier string `json:"identifier" binding:"required"`
	Password   string `json:"password" binding:"required"`
	Remember   bool   `json:"remember"`
}

// Login checks credentials, issues tokens and loads the caller's roster so
// the snapshot loop runs from the start of the session.
func (h *Handler) Login(c *gin.Context) {
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	usr, pair, err := h.accounts.Login(c.Request.Context(), req.Identifier, req.Password, req.Remember)
	if err != nil {
		fail(c, err)
		return
	}
	if _, err := h.sessions.Acquire(c.Request.Context(), usr.ID); err != nil {
		log.Printf("acquire session %s: %v", usr.ID, err)
		c.JSON(http.StatusBadGateway, gin.H{"error": "could not load roster"})
		return
	}
	c.JSON(http.StatusOK, tokenResponse(pair, usr))
}

func tokenResponse(pair auth.TokenPair, usr auth.User) gin.H {
	body := gin.H{
		"access_token": pair.AccessToken,
		"expires_at":   pair.AccessExp.Unix(),
		"user":         gin.H{"id": usr.ID, "username": usr.Username, "email": usr.Email},
	}
	if pair.RefreshToken != "" {
		body["refresh_token"] = pair.RefreshToken
	}
	return body
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token" binding:"required"`
}

func (h *Handler) Refresh(c *gin.Context) {
	var req refreshRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	claims, pair, err := h.accounts.Tokens().Refresh(req.RefreshToken)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid refresh token"})
		return
	}
	c.JSON(http.StatusOK, tokenResponse(pair, auth.User{ID: claims.Subject, Username: claims.Username}))
}

// Logout stops the caller's snapshot loop after a final write.
func (h *Handler) Logout(c *gin.Context) {
	identity := c.GetString(auth.IdentityKey)
	if err := h.sessions.Release(c.Request.Context(), identity); err != nil {
		log.Printf("release session %s: %v", identity, err)
		c.JSON(http.StatusBadGateway, gin.H{"error": "could not save roster"})
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *Handler) ForgotPassword(c *gin.Context) {
	var req emailRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := h.accounts.SendPasswordResetEmail(c.Request.Context(), req.Email); err != nil {
		fail(c, err)
		return
	}
	c.Status(http.StatusAccepted)
}

type resetRequest struct {
	Email       string `json:"email" binding:"required,email"`
	Code        string `json:"code" binding:"required"`
	NewPassword string `json:"new_password" binding:"required"`
}

func (h *Handler) ResetPassword(c *gin.Context) {
	var req resetRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := h.accounts.ResetPassword(c.Request.Context(), req.Email, req.Code, req.NewPassword); err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"reset": true})
}
