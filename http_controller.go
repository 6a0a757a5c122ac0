package paygate

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	validation "github.com/go-ozzo/ozzo-validation"
	"github.com/go-ozzo/ozzo-validation/is"
	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/go-router"
)

// RouteRegistrar captures the router methods used by the controller.
type RouteRegistrar interface {
	Get(path string, handler router.HandlerFunc, mw ...router.MiddlewareFunc) router.RouteInfo
	Post(path string, handler router.HandlerFunc, mw ...router.MiddlewareFunc) router.RouteInfo
	Put(path string, handler router.HandlerFunc, mw ...router.MiddlewareFunc) router.RouteInfo
}

// HTTPController exposes the JSON API. Routes are grouped in three bands:
// open (register, login), authenticated (own profile, payments), and paid
// (browsing other member profiles).
type HTTPController struct {
	Debug     bool
	Logger    Logger
	Repo      RepositoryManager
	Auther    Authenticator
	Registrar AccountRegistrerer
	Profiles  *UpdateProfileHandler
	Machine   PaymentStateMachine
	Scheduler *CompletionScheduler
	Gate      *Gate
}

type HTTPControllerOption func(*HTTPController) *HTTPController

func WithControllerLogger(logger Logger) HTTPControllerOption {
	return func(c *HTTPController) *HTTPController {
		if logger != nil {
			c.Logger = logger
		}
		return c
	}
}

func WithControllerRepo(repo RepositoryManager) HTTPControllerOption {
	return func(c *HTTPController) *HTTPController {
		c.Repo = repo
		return c
	}
}

func WithControllerAuthenticator(auther Authenticator) HTTPControllerOption {
	return func(c *HTTPController) *HTTPController {
		c.Auther = auther
		return c
	}
}

func WithControllerRegistrar(registrar AccountRegistrerer) HTTPControllerOption {
	return func(c *HTTPController) *HTTPController {
		c.Registrar = registrar
		return c
	}
}

func WithControllerProfiles(profiles *UpdateProfileHandler) HTTPControllerOption {
	return func(c *HTTPController) *HTTPController {
		c.Profiles = profiles
		return c
	}
}

func WithControllerMachine(machine PaymentStateMachine) HTTPControllerOption {
	return func(c *HTTPController) *HTTPController {
		c.Machine = machine
		return c
	}
}

func WithControllerScheduler(scheduler *CompletionScheduler) HTTPControllerOption {
	return func(c *HTTPController) *HTTPController {
		c.Scheduler = scheduler
		return c
	}
}

func WithControllerGate(gate *Gate) HTTPControllerOption {
	return func(c *HTTPController) *HTTPController {
		c.Gate = gate
		return c
	}
}

func WithControllerDebug(debug bool) HTTPControllerOption {
	return func(c *HTTPController) *HTTPController {
		c.Debug = debug
		return c
	}
}

func NewHTTPController(opts ...HTTPControllerOption) *HTTPController {
	c := &HTTPController{
		Logger: defLogger{},
	}

	for _, opt := range opts {
		c = opt(c)
	}

	if c.Repo == nil {
		panic("Missing RepositoryManager in paygate controller...")
	}

	if c.Auther == nil {
		panic("Missing Authenticator in paygate controller...")
	}

	if c.Gate == nil {
		panic("Missing Gate in paygate controller...")
	}

	if c.Registrar == nil {
		c.Registrar = NewRegisterUserHandler(c.Repo.Users())
	}

	if c.Profiles == nil {
		c.Profiles = NewUpdateProfileHandler(c.Repo.Users())
	}

	if c.Machine == nil {
		c.Machine = NewPaymentStateMachine(c.Repo)
	}

	if c.Scheduler == nil {
		c.Scheduler = NewCompletionScheduler(c.Machine)
	}

	return c
}

// RegisterRoutes registers the API routes.
func (c *HTTPController) RegisterRoutes(app RouteRegistrar) {
	authed := c.Gate.Protected(CapabilityAuthenticated)
	paid := c.Gate.Protected(CapabilityPaid)

	app.Post("/auth/register", c.Register)
	app.Post("/auth/login", c.Login)

	app.Get("/profile", c.GetProfile, authed)
	app.Put("/profile", c.UpdateProfile, authed)
	app.Get("/profiles", c.BrowseProfiles, paid)

	app.Post("/payments/initiate", c.InitiatePayment, authed)
	app.Post("/payments/complete", c.CompletePayment, authed)
	app.Post("/payments/simulate", c.SimulatePayment, authed)
	app.Get("/payments/status", c.PaymentStatus, authed)
	app.Get("/payments/history", c.PaymentHistory, authed)
}

// RegisterPayload is the account creation payload.
type RegisterPayload struct {
	Name         string   `form:"name" json:"name"`
	Email        string   `form:"email" json:"email"`
	Phone        string   `form:"phone_number" json:"phone_number"`
	Password     string   `form:"password" json:"password"`
	Tier         string   `form:"tier" json:"tier"`
	Age          int      `form:"age" json:"age"`
	Profession   string   `form:"profession" json:"profession"`
	Hobbies      []string `form:"hobbies" json:"hobbies"`
	ProfilePhoto string   `form:"profile_photo" json:"profile_photo"`
}

// Validate will run validation rules
func (r RegisterPayload) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Name, validation.Required, validation.Length(1, 200)),
		validation.Field(&r.Email, validation.Required, validation.Length(6, 100), is.Email),
		validation.Field(&r.Password, validation.Required, validation.Length(6, 100)),
		validation.Field(&r.Tier, validation.Required, validation.By(validateTier)),
		validation.Field(&r.Age, validation.Min(18), validation.Max(120)),
	)
}

func validateTier(value any) error {
	s, _ := value.(string)
	if _, ok := ParseTier(s); !ok {
		return errors.New("must be premium or standard")
	}
	return nil
}

func (c *HTTPController) Register(ctx router.Context) error {
	payload := new(RegisterPayload)

	if err := ctx.Bind(payload); err != nil {
		c.Logger.Error("register parse payload: %v", err)
		return RespondWithError(ctx, goerrors.Wrap(err, goerrors.CategoryBadInput, "failed to parse request body").
			WithCode(goerrors.CodeBadRequest))
	}

	if err := payload.Validate(); err != nil {
		return respondValidationError(ctx, err)
	}

	user, err := c.Registrar.RegisterUser(ctx.Context(), RegisterUserMessage{
		Name:         payload.Name,
		Email:        payload.Email,
		Phone:        payload.Phone,
		Password:     payload.Password,
		Tier:         payload.Tier,
		Age:          payload.Age,
		Profession:   payload.Profession,
		Hobbies:      payload.Hobbies,
		ProfilePhoto: payload.ProfilePhoto,
	})
	if err != nil {
		c.Logger.Error("register user error: %v", err)
		return RespondWithError(ctx, err)
	}

	return ctx.JSON(http.StatusCreated, map[string]any{
		"user": user.Sanitize(),
	})
}

// LoginPayload is the credential payload.
type LoginPayload struct {
	Email    string `form:"email" json:"email"`
	Password string `form:"password" json:"password"`
}

// Validate will run validation rules
func (r LoginPayload) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Email, validation.Required, is.Email),
		validation.Field(&r.Password, validation.Required),
	)
}

func (c *HTTPController) Login(ctx router.Context) error {
	payload := new(LoginPayload)

	if err := ctx.Bind(payload); err != nil {
		c.Logger.Error("login parse payload: %v", err)
		return RespondWithError(ctx, goerrors.Wrap(err, goerrors.CategoryBadInput, "failed to parse request body").
			WithCode(goerrors.CodeBadRequest))
	}

	if err := payload.Validate(); err != nil {
		return respondValidationError(ctx, err)
	}

	token, err := c.Auther.Login(ctx.Context(), payload.Email, payload.Password)
	if err != nil {
		return RespondWithError(ctx, err)
	}

	user, err := c.Repo.Users().GetByEmail(ctx.Context(), payload.Email)
	if err != nil {
		return RespondWithError(ctx, err)
	}

	return ctx.JSON(router.StatusOK, map[string]any{
		"token": token,
		"user":  user.Sanitize(),
	})
}

func (c *HTTPController) GetProfile(ctx router.Context) error {
	actor, ok := RouterActor(ctx, "")
	if !ok {
		return RespondWithError(ctx, ErrTokenMalformed)
	}

	user, err := c.Repo.Users().GetByID(ctx.Context(), actor.UserID)
	if err != nil {
		return RespondWithError(ctx, err)
	}

	return ctx.JSON(router.StatusOK, map[string]any{
		"user": user.Sanitize(),
	})
}

// UpdateProfilePayload is the partial profile update payload. Absent fields
// stay untouched.
type UpdateProfilePayload struct {
	Name         *string   `form:"name" json:"name"`
	Phone        *string   `form:"phone_number" json:"phone_number"`
	Age          *int      `form:"age" json:"age"`
	Profession   *string   `form:"profession" json:"profession"`
	Hobbies      *[]string `form:"hobbies" json:"hobbies"`
	ProfilePhoto *string   `form:"profile_photo" json:"profile_photo"`
	Password     *string   `form:"password" json:"password"`
}

// Validate will run validation rules
func (r UpdateProfilePayload) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Name, validation.Length(1, 200)),
		validation.Field(&r.Age, validation.Min(18), validation.Max(120)),
		validation.Field(&r.Password, validation.Length(6, 100)),
	)
}

func (c *HTTPController) UpdateProfile(ctx router.Context) error {
	actor, ok := RouterActor(ctx, "")
	if !ok {
		return RespondWithError(ctx, ErrTokenMalformed)
	}

	payload := new(UpdateProfilePayload)
	if err := ctx.Bind(payload); err != nil {
		c.Logger.Error("update profile parse payload: %v", err)
		return RespondWithError(ctx, goerrors.Wrap(err, goerrors.CategoryBadInput, "failed to parse request body").
			WithCode(goerrors.CodeBadRequest))
	}

	if err := payload.Validate(); err != nil {
		return respondValidationError(ctx, err)
	}

	user, err := c.Profiles.UpdateProfile(ctx.Context(), UpdateProfileMessage{
		UserID:       actor.UserID,
		Name:         payload.Name,
		Phone:        payload.Phone,
		Age:          payload.Age,
		Profession:   payload.Profession,
		Hobbies:      payload.Hobbies,
		ProfilePhoto: payload.ProfilePhoto,
		Password:     payload.Password,
	})
	if err != nil {
		return RespondWithError(ctx, err)
	}

	return ctx.JSON(router.StatusOK, map[string]any{
		"user": user.Sanitize(),
	})
}

// BrowseProfiles lists other member profiles. It sits behind the paid
// capability.
func (c *HTTPController) BrowseProfiles(ctx router.Context) error {
	actor, ok := RouterActor(ctx, "")
	if !ok {
		return RespondWithError(ctx, ErrTokenMalformed)
	}

	users, err := c.Repo.Users().List(ctx.Context())
	if err != nil {
		return RespondWithError(ctx, err)
	}

	profiles := make([]map[string]any, 0, len(users))
	for _, user := range users {
		if user.ID == actor.UserID {
			continue
		}
		profiles = append(profiles, user.Sanitize())
	}

	return ctx.JSON(router.StatusOK, map[string]any{
		"profiles": profiles,
	})
}

func (c *HTTPController) InitiatePayment(ctx router.Context) error {
	actor, ok := RouterActor(ctx, "")
	if !ok {
		return RespondWithError(ctx, ErrTokenMalformed)
	}

	user, err := c.Machine.Initiate(ctx.Context(), actor.Ref(), actor.UserID)
	if err != nil {
		return RespondWithError(ctx, err)
	}

	return ctx.JSON(router.StatusOK, map[string]any{
		"message":       "payment initiated",
		"payment_state": user.PaymentState,
		"amount":        user.PaymentAmount.String(),
		"tier":          user.Tier,
	})
}

// CompletePaymentPayload optionally carries an external transaction id.
type CompletePaymentPayload struct {
	TransactionID string `form:"transaction_id" json:"transaction_id"`
}

// Validate will run validation rules
func (r CompletePaymentPayload) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.TransactionID, validation.Length(0, 100)),
	)
}

func (c *HTTPController) CompletePayment(ctx router.Context) error {
	actor, ok := RouterActor(ctx, "")
	if !ok {
		return RespondWithError(ctx, ErrTokenMalformed)
	}

	payload := new(CompletePaymentPayload)
	if err := ctx.Bind(payload); err != nil {
		c.Logger.Error("complete payment parse payload: %v", err)
		return RespondWithError(ctx, goerrors.Wrap(err, goerrors.CategoryBadInput, "failed to parse request body").
			WithCode(goerrors.CodeBadRequest))
	}

	if err := payload.Validate(); err != nil {
		return respondValidationError(ctx, err)
	}

	var opts []TransitionOption
	if payload.TransactionID != "" {
		opts = append(opts, WithTransactionID(payload.TransactionID))
	}

	receipt, err := c.Machine.Complete(ctx.Context(), actor.Ref(), actor.UserID, opts...)
	if err != nil {
		return RespondWithError(ctx, err)
	}

	// Settlement through another path supersedes any pending simulation.
	c.Scheduler.CancelPending(actor.UserID)

	response := map[string]any{
		"payment_state":     receipt.User.PaymentState,
		"already_completed": receipt.AlreadyCompleted,
	}
	if receipt.Record != nil {
		response["transaction_id"] = receipt.Record.TransactionID
		response["amount"] = receipt.Record.Amount.String()
	}

	return ctx.JSON(router.StatusOK, response)
}

// SimulatePayment moves the account into processing and schedules a
// deferred settlement, standing in for an external gateway callback.
func (c *HTTPController) SimulatePayment(ctx router.Context) error {
	actor, ok := RouterActor(ctx, "")
	if !ok {
		return RespondWithError(ctx, ErrTokenMalformed)
	}

	user, err := c.Machine.Initiate(ctx.Context(), actor.Ref(), actor.UserID)
	if err != nil {
		return RespondWithError(ctx, err)
	}

	transactionID := fmt.Sprintf("TEST%d", time.Now().UnixMilli())
	c.Scheduler.Schedule(ctx.Context(), actor.Ref(), actor.UserID, WithTransactionID(transactionID))

	return ctx.JSON(http.StatusAccepted, map[string]any{
		"message":       "payment processing",
		"payment_state": user.PaymentState,
		"amount":        user.PaymentAmount.String(),
	})
}

func (c *HTTPController) PaymentStatus(ctx router.Context) error {
	actor, ok := RouterActor(ctx, "")
	if !ok {
		return RespondWithError(ctx, ErrTokenMalformed)
	}

	user, err := c.Repo.Users().GetByID(ctx.Context(), actor.UserID)
	if err != nil {
		return RespondWithError(ctx, err)
	}
	user.EnsurePaymentState()

	return ctx.JSON(router.StatusOK, map[string]any{
		"is_paid":       user.IsPaid(),
		"payment_state": user.PaymentState,
		"amount":        user.PaymentAmount.String(),
		"tier":          user.Tier,
	})
}

func (c *HTTPController) PaymentHistory(ctx router.Context) error {
	actor, ok := RouterActor(ctx, "")
	if !ok {
		return RespondWithError(ctx, ErrTokenMalformed)
	}

	records, err := c.Repo.Payments().ListByUser(ctx.Context(), actor.UserID)
	if err != nil {
		return RespondWithError(ctx, err)
	}

	payments := make([]map[string]any, 0, len(records))
	for _, record := range records {
		payments = append(payments, map[string]any{
			"id":             record.ID.String(),
			"amount":         record.Amount.String(),
			"transaction_id": record.TransactionID,
			"status":         record.Status,
			"created_at":     record.CreatedAt,
		})
	}

	return ctx.JSON(router.StatusOK, map[string]any{
		"payments": payments,
	})
}

// RespondWithError writes the rich error as the canonical {"error": message}
// body with the status carried by the error itself.
func RespondWithError(c router.Context, err error) error {
	var richErr *goerrors.Error
	if !goerrors.As(err, &richErr) {
		richErr = goerrors.Wrap(err, goerrors.CategoryInternal, "an unexpected server error occurred").
			WithCode(goerrors.CodeInternal)
	}

	code := richErr.Code
	if code == 0 {
		code = statusFromCategory(richErr.Category)
	}

	return c.JSON(code, map[string]any{
		"error": richErr.Message,
	})
}

func respondValidationError(c router.Context, err error) error {
	return c.JSON(router.StatusBadRequest, map[string]any{
		"error": err.Error(),
	})
}

func statusFromCategory(category goerrors.Category) int {
	switch category {
	case goerrors.CategoryValidation, goerrors.CategoryBadInput, goerrors.CategoryConflict:
		return router.StatusBadRequest
	case goerrors.CategoryAuth:
		return router.StatusUnauthorized
	case goerrors.CategoryAuthz:
		return router.StatusForbidden
	case goerrors.CategoryNotFound:
		return router.StatusNotFound
	default:
		return router.StatusInternalServerError
	}
}
