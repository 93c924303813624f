// Package form validates the amount and phone fields of the STK push form.
package form

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"github.com/berniyo/mpesa-lambda/internal/payment"
	"github.com/berniyo/mpesa-lambda/internal/phone"
)

const (
	tagAmount = "stk_amount"
	tagPhone  = "msisdn"

	msgAmount = "Please enter a valid amount (minimum %s)"
)

// State is the validation outcome for one field.
type State struct {
	Valid   bool   `json:"valid"`
	Message string `json:"message,omitempty"`
}

// Form carries the raw field values as typed by the user.
type Form struct {
	Amount string `json:"amount" validate:"required,stk_amount"`
	Phone  string `json:"phone" validate:"required,msisdn"`
}

// Result aggregates both field states.
type Result struct {
	Amount State `json:"amount"`
	Phone  State `json:"phone"`
}

// Valid reports whether every field passed.
func (r Result) Valid() bool {
	return r.Amount.Valid && r.Phone.Valid
}

// ValidationError is returned by Request when the form is not submittable.
type ValidationError struct {
	Result Result
}

func (e *ValidationError) Error() string {
	var parts []string
	if !e.Result.Amount.Valid {
		parts = append(parts, "amount: "+e.Result.Amount.Message)
	}
	if !e.Result.Phone.Valid {
		parts = append(parts, "phone: "+e.Result.Phone.Message)
	}
	return "invalid form: " + strings.Join(parts, "; ")
}

// Validator checks form fields. It is stateless per call.
type Validator struct {
	normalizer *phone.Normalizer
	minAmount  decimal.Decimal
	validate   *validator.Validate
}

// Option customizes a Validator.
type Option func(*Validator)

// WithMinAmount sets the inclusive lower bound for amounts.
func WithMinAmount(min decimal.Decimal) Option {
	return func(v *Validator) {
		if min.IsPositive() {
			v.minAmount = min
		}
	}
}

// New builds a Validator that delegates phone checks to normalizer.
func New(normalizer *phone.Normalizer, opts ...Option) *Validator {
	if normalizer == nil {
		normalizer = phone.New()
	}

	v := &Validator{
		normalizer: normalizer,
		minAmount:  decimal.NewFromInt(1),
		validate:   validator.New(),
	}
	for _, opt := range opts {
		opt(v)
	}

	// Registration only fails for empty tags or nil funcs.
	_ = v.validate.RegisterValidation(tagAmount, func(fl validator.FieldLevel) bool {
		_, ok := v.parseAmount(fl.Field().String())
		return ok
	})
	_ = v.validate.RegisterValidation(tagPhone, func(fl validator.FieldLevel) bool {
		_, err := v.normalizer.Normalize(fl.Field().String())
		return err == nil
	})

	return v
}

// ValidateAmount checks that raw parses as a decimal at or above the minimum.
func (v *Validator) ValidateAmount(raw string) State {
	if err := v.validate.Var(strings.TrimSpace(raw), "required,"+tagAmount); err != nil {
		return v.amountState()
	}
	return State{Valid: true}
}

// ValidatePhone checks raw through the phone normalizer.
func (v *Validator) ValidatePhone(raw string) State {
	if err := v.validate.Var(raw, "required,"+tagPhone); err != nil {
		return v.phoneState(raw)
	}
	return State{Valid: true}
}

// ValidateForm recomputes both field states from scratch.
func (v *Validator) ValidateForm(f Form) Result {
	res := Result{
		Amount: State{Valid: true},
		Phone:  State{Valid: true},
	}

	f.Amount = strings.TrimSpace(f.Amount)
	err := v.validate.Struct(f)
	if err == nil {
		return res
	}

	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return Result{Amount: v.amountState(), Phone: v.phoneState(f.Phone)}
	}
	for _, fe := range fieldErrs {
		switch fe.Field() {
		case "Amount":
			res.Amount = v.amountState()
		case "Phone":
			res.Phone = v.phoneState(f.Phone)
		}
	}
	return res
}

// Request validates f and builds the normalized payment request.
func (v *Validator) Request(f Form) (payment.Request, error) {
	res := v.ValidateForm(f)
	if !res.Valid() {
		return payment.Request{}, &ValidationError{Result: res}
	}

	amount, _ := v.parseAmount(strings.TrimSpace(f.Amount))
	number, err := v.normalizer.Normalize(f.Phone)
	if err != nil {
		return payment.Request{}, &ValidationError{Result: Result{Amount: res.Amount, Phone: v.phoneState(f.Phone)}}
	}

	return payment.Request{Amount: amount, Phone: number}, nil
}

func (v *Validator) parseAmount(raw string) (decimal.Decimal, bool) {
	amount, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Zero, false
	}
	if amount.LessThan(v.minAmount) {
		return decimal.Zero, false
	}
	return amount, true
}

func (v *Validator) amountState() State {
	return State{Message: fmt.Sprintf(msgAmount, v.minAmount.String())}
}

func (v *Validator) phoneState(raw string) State {
	_, err := v.normalizer.Normalize(raw)
	var rej *phone.RejectionError
	if errors.As(err, &rej) {
		return State{Message: rej.Message()}
	}
	return State{Message: (&phone.RejectionError{Reason: phone.UnrecognizedFormat}).Message()}
}
