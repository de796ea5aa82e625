package lifecycle

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/seatsync/seatsync/internal/authz"
	"github.com/seatsync/seatsync/internal/billing"
	"github.com/seatsync/seatsync/internal/directory"
	"github.com/seatsync/seatsync/internal/identity"
	"github.com/seatsync/seatsync/internal/logging"
	"github.com/seatsync/seatsync/internal/plan"
	"github.com/seatsync/seatsync/internal/validation"
)

// Handler provides the HTTP endpoints for the lifecycle operations.
type Handler struct {
	svc *Service
}

// NewHandler creates a new lifecycle handler.
func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

// RegisterPublicRoutes sets up routes that need no authentication.
func (h *Handler) RegisterPublicRoutes(r *gin.RouterGroup) {
	r.GET("/organizations/exists/:id", h.CheckOrganizationExists)
}

// RegisterProtectedRoutes sets up routes behind bearer authentication.
func (h *Handler) RegisterProtectedRoutes(r *gin.RouterGroup) {
	r.POST("/auth/signup", h.Signup)
	r.POST("/auth/accept-invite", h.AcceptInvite)
	r.DELETE("/auth/users/:id",
		authz.RequireRoles(string(directory.RoleAdmin), string(directory.RoleSuperAdmin)),
		h.RemoveUser)

	r.POST("/organizations", h.CreateOrganization)
	r.GET("/organizations/my", h.GetMyOrganization)

	r.GET("/billing/verify", h.VerifyCheckoutSession)
	r.POST("/billing/portal", h.CreateBillingPortalSession)
	r.POST("/billing/subscription", h.UpdateSubscription)
	r.GET("/billing/payment-info", h.GetPaymentInfo)
}

// Signup handles POST /v1/auth/signup.
func (h *Handler) Signup(c *gin.Context) {
	principal, ok := authz.GetPrincipal(c)
	if !ok {
		unauthenticated(c)
		return
	}

	result, err := h.svc.Signup(c.Request.Context(), principal)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, result)
}

// AcceptInvite handles POST /v1/auth/accept-invite.
func (h *Handler) AcceptInvite(c *gin.Context) {
	principal, ok := authz.GetPrincipal(c)
	if !ok {
		unauthenticated(c)
		return
	}
	var req struct {
		OrgID string `json:"orgId" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": "orgId required"})
		return
	}

	result, err := h.svc.AcceptInvite(c.Request.Context(), principal, req.OrgID)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, result)
}

// RemoveUser handles DELETE /v1/auth/users/:id (ADMIN or SUPER_ADMIN).
func (h *Handler) RemoveUser(c *gin.Context) {
	principal, ok := authz.GetPrincipal(c)
	if !ok {
		unauthenticated(c)
		return
	}

	if err := h.svc.RemoveUser(c.Request.Context(), principal.ExternalID, c.Param("id")); err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"removed": true})
}

// CreateOrganization handles POST /v1/organizations.
func (h *Handler) CreateOrganization(c *gin.Context) {
	principal, ok := authz.GetPrincipal(c)
	if !ok {
		unauthenticated(c)
		return
	}
	var req struct {
		Name  string    `json:"name" binding:"required"`
		Plan  plan.Plan `json:"plan" binding:"required"`
		Seats int       `json:"seats" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": "name, plan, and seats required"})
		return
	}

	name := validation.SanitizeString(req.Name, 200)
	result, err := h.svc.CreateOrganization(c.Request.Context(), principal, name, req.Plan, req.Seats)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, result)
}

// GetMyOrganization handles GET /v1/organizations/my.
func (h *Handler) GetMyOrganization(c *gin.Context) {
	principal, ok := authz.GetPrincipal(c)
	if !ok {
		unauthenticated(c)
		return
	}

	result, err := h.svc.GetMyOrganization(c.Request.Context(), principal)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

// CheckOrganizationExists handles GET /v1/organizations/exists/:id.
func (h *Handler) CheckOrganizationExists(c *gin.Context) {
	exists, name, err := h.svc.CheckOrganizationExists(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"exists": exists, "name": name})
}

// VerifyCheckoutSession handles GET /v1/billing/verify?session_id=.
func (h *Handler) VerifyCheckoutSession(c *gin.Context) {
	sessionID := c.Query("session_id")
	if sessionID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": "session_id query parameter required"})
		return
	}

	org, err := h.svc.VerifyCheckoutSession(c.Request.Context(), sessionID)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"organization": org})
}

// CreateBillingPortalSession handles POST /v1/billing/portal.
func (h *Handler) CreateBillingPortalSession(c *gin.Context) {
	principal, ok := authz.GetPrincipal(c)
	if !ok {
		unauthenticated(c)
		return
	}

	url, err := h.svc.CreateBillingPortalSession(c.Request.Context(), principal.ExternalID)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"url": url})
}

// UpdateSubscription handles POST /v1/billing/subscription.
func (h *Handler) UpdateSubscription(c *gin.Context) {
	principal, ok := authz.GetPrincipal(c)
	if !ok {
		unauthenticated(c)
		return
	}
	var req struct {
		Plan  plan.Plan `json:"plan"`
		Seats int       `json:"seats"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": "malformed body"})
		return
	}
	if req.Plan == "" && req.Seats == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": "plan or seats required"})
		return
	}

	org, err := h.svc.UpdateSubscription(c.Request.Context(), principal.ExternalID, req.Plan, req.Seats)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"organization": org})
}

// GetPaymentInfo handles GET /v1/billing/payment-info.
func (h *Handler) GetPaymentInfo(c *gin.Context) {
	principal, ok := authz.GetPrincipal(c)
	if !ok {
		unauthenticated(c)
		return
	}

	info, err := h.svc.GetPaymentInfo(c.Request.Context(), principal.ExternalID)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, info)
}

func unauthenticated(c *gin.Context) {
	c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid_credentials", "message": "Authentication required."})
}

// writeError maps service errors onto stable machine-readable reason
// strings. Seat-limit and role-protection failures stay distinguishable
// from generic forbidden so clients can render specific messaging.
func (h *Handler) writeError(c *gin.Context, err error) {
	var provisioned *AlreadyProvisionedError
	if errors.As(err, &provisioned) {
		c.JSON(http.StatusConflict, gin.H{
			"error":     "already_exists",
			"message":   "An account already exists for this identity.",
			"accountId": provisioned.AccountID,
		})
		return
	}

	switch {
	case errors.Is(err, ErrEmailNotVerified):
		c.JSON(http.StatusForbidden, gin.H{"error": "email_not_verified", "message": "Verify your email address first."})
	case errors.Is(err, ErrUserNotProvisioned):
		c.JSON(http.StatusNotFound, gin.H{"error": "user_not_provisioned", "message": "Sign up before performing this operation."})
	case errors.Is(err, ErrSelfRemoval):
		c.JSON(http.StatusBadRequest, gin.H{"error": "self_removal_forbidden", "message": "You cannot remove yourself."})
	case errors.Is(err, ErrAdminProtected):
		c.JSON(http.StatusForbidden, gin.H{"error": "admin_protected", "message": "Admins cannot be removed."})
	case errors.Is(err, ErrForbidden):
		c.JSON(http.StatusForbidden, gin.H{"error": "forbidden", "message": "You cannot perform this operation."})
	case errors.Is(err, ErrOrgMismatch):
		c.JSON(http.StatusForbidden, gin.H{"error": "organization_mismatch", "message": "Token organization does not match your account."})
	case errors.Is(err, ErrInvalidPlan):
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_plan", "message": "Unknown plan."})
	case errors.Is(err, ErrNoSubscription):
		c.JSON(http.StatusConflict, gin.H{"error": "no_subscription", "message": "Organization has no subscription yet."})
	case errors.Is(err, ErrNoCustomer):
		c.JSON(http.StatusConflict, gin.H{"error": "no_billing_customer", "message": "Organization has no billing customer yet."})
	case errors.Is(err, ErrQuantityBelowMinimum):
		c.JSON(http.StatusBadRequest, gin.H{"error": "quantity_too_low", "message": "Seat quantity must be at least 1."})
	case errors.Is(err, ErrQuantityBelowActiveUsers):
		c.JSON(http.StatusConflict, gin.H{"error": "quantity_below_active_users", "message": "Seat quantity cannot be below current member count."})
	case errors.Is(err, directory.ErrSeatLimitReached):
		c.JSON(http.StatusForbidden, gin.H{"error": "seat_limit_reached", "message": "The organization has no free seats."})
	case errors.Is(err, directory.ErrInvalidSeatLimit):
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_seat_limit", "message": "Seat limit must be at least 1."})
	case errors.Is(err, directory.ErrAlreadyInOrganization):
		c.JSON(http.StatusConflict, gin.H{"error": "already_has_organization", "message": "Account already belongs to an organization."})
	case errors.Is(err, directory.ErrAccountNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "account_not_found", "message": "Account not found."})
	case errors.Is(err, directory.ErrOrgNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "organization_not_found", "message": "Organization not found."})
	case errors.Is(err, billing.ErrPaymentNotCompleted):
		c.JSON(http.StatusConflict, gin.H{"error": "payment_not_completed", "message": "Checkout session is not paid yet."})
	case errors.Is(err, billing.ErrSessionNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "session_not_found", "message": "Checkout session not found."})
	case errors.Is(err, billing.ErrOrgMetadataMissing):
		c.JSON(http.StatusConflict, gin.H{"error": "org_metadata_missing", "message": "Checkout customer carries no organization reference."})
	case errors.Is(err, billing.ErrSubscriptionNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "subscription_not_found", "message": "Subscription not found at the payment provider."})
	case errors.Is(err, billing.ErrSubscriptionItemsEmpty):
		c.JSON(http.StatusConflict, gin.H{"error": "subscription_items_empty", "message": "Subscription has no line items."})
	case errors.Is(err, billing.ErrCustomerNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "customer_not_found", "message": "Billing customer not found."})
	case errors.Is(err, billing.ErrNoPaymentMethod):
		c.JSON(http.StatusNotFound, gin.H{"error": "no_payment_method", "message": "No payment method on file."})
	case errors.Is(err, identity.ErrProviderUnavailable):
		c.JSON(http.StatusBadGateway, gin.H{"error": "external_unavailable", "message": "The identity provider is unavailable."})
	default:
		logging.L(c.Request.Context()).Error("lifecycle operation failed", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error", "message": "The operation could not be completed."})
	}
}
