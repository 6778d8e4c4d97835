package echoapi

import (
	"github.com/go-playground/validator/v10"

	"github.com/trezcool/lms/core"
	"github.com/trezcool/lms/core/reconcile"
)

type CreatePurchaseRequest struct {
	CourseID string `json:"course_id" validate:"required,entityid"`
}

func (r *CreatePurchaseRequest) Validate(validate *validator.Validate) error {
	r.CourseID = core.CleanString(r.CourseID)
	return validate.Struct(r)
}

type CompletePurchaseRequest struct {
	PurchaseID string `json:"purchase_id" validate:"required,entityid"`
}

func (r *CompletePurchaseRequest) Validate(validate *validator.Validate) error {
	r.PurchaseID = core.CleanString(r.PurchaseID)
	return validate.Struct(r)
}

type CompletionResponse struct {
	Success     bool                     `json:"success"`
	Kind        reconcile.CompletionKind `json:"kind"`
	Message     string                   `json:"message"`
	CourseTitle string                   `json:"course_title,omitempty"`
}

func newCompletionResponse(comp reconcile.Completion) CompletionResponse {
	resp := CompletionResponse{
		Success: comp.Success(),
		Kind:    comp.Kind,
		Message: comp.Message,
	}
	if resp.Success {
		resp.CourseTitle = comp.CourseTitle
	}
	return resp
}

type WebhookResponse struct {
	Received bool `json:"received"`
}
