package forest

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/MarkoPoloResearchLab/qcs/internal/transport"
	"github.com/MarkoPoloResearchLab/qcs/pkg/qcs"
)

// QMI fetches one QMI by id.
func (service *Service) QMI(ctx context.Context, id int64) (qcs.QMI, error) {
	const operation, subject = "qmi", "qmis"
	payload, err := service.call(ctx, operation, subject, transport.Request{Method: http.MethodGet, Path: qmiPath(id)})
	if err != nil {
		return qcs.QMI{}, err
	}
	if payload.Variant == transport.VariantError {
		return qcs.QMI{}, serverError(operation, subject, payload)
	}
	var qmi qcs.QMI
	if err := requiredField(operation, subject, payload, "qmi", &qmi); err != nil {
		return qcs.QMI{}, err
	}
	return qmi, nil
}

// QMIs lists the caller's QMIs.
func (service *Service) QMIs(ctx context.Context) ([]qcs.QMI, error) {
	const operation, subject = "qmis", "qmis"
	payload, err := service.call(ctx, operation, subject, transport.Request{Method: http.MethodGet, Path: pathQMIs})
	if err != nil {
		return nil, err
	}
	if payload.Variant == transport.VariantError {
		return nil, serverError(operation, subject, payload)
	}
	var qmis []qcs.QMI
	if err := requiredField(operation, subject, payload, "qmis", &qmis); err != nil {
		return nil, err
	}
	return qmis, nil
}

// CreateQMI requests a new QMI provisioned with the given public key.
func (service *Service) CreateQMI(ctx context.Context, request qcs.QMIRequest) error {
	const operation, subject = "create_qmi", "qmis"
	if strings.TrimSpace(request.PublicKey) == "" {
		return qcs.WrapError(operation, subject, "invalid_request", fmt.Errorf("%w: public key is required", qcs.ErrInvalidConfig))
	}
	return service.mutate(ctx, operation, subject, transport.Request{Method: http.MethodPost, Path: pathQMIs, Body: request})
}

// DeleteQMI removes the QMI with id.
func (service *Service) DeleteQMI(ctx context.Context, id int64) error {
	return service.mutate(ctx, "delete_qmi", "qmis", transport.Request{Method: http.MethodDelete, Path: qmiPath(id)})
}

// StartQMI powers on the QMI with id.
func (service *Service) StartQMI(ctx context.Context, id int64) error {
	return service.powerQMI(ctx, id, qcs.QMIActionStart)
}

// StopQMI powers off the QMI with id.
func (service *Service) StopQMI(ctx context.Context, id int64) error {
	return service.powerQMI(ctx, id, qcs.QMIActionStop)
}

func (service *Service) powerQMI(ctx context.Context, id int64, action qcs.QMIAction) error {
	request := transport.Request{Method: http.MethodPost, Path: fmt.Sprintf("%s/%s", qmiPath(id), action)}
	return service.mutate(ctx, string(action)+"_qmi", "qmis", request)
}

func (service *Service) mutate(ctx context.Context, operation string, subject string, request transport.Request) error {
	payload, err := service.call(ctx, operation, subject, request)
	if err != nil {
		return err
	}
	if payload.Variant == transport.VariantError {
		return serverError(operation, subject, payload)
	}
	return nil
}

func qmiPath(id int64) string {
	return fmt.Sprintf("%s/%d", pathQMIs, id)
}
