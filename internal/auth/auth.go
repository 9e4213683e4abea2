package auth

import (
	"fmt"

	"github.com/casbin/casbin/v2"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// Authorizer gates RPC calls behind a casbin ACL: subject, object, action.
type Authorizer struct {
	enforcer *casbin.Enforcer
}

// New creates a new Authorizer instance with a casbin enforcer
// initialized using the provided model and policy files. It returns
// a pointer to the created Authorizer and any error loading the model
// or policy.
func New(model, policy string) (*Authorizer, error) {
	enforcer, err := casbin.NewEnforcer(model, policy)
	if err != nil {
		return nil, err
	}
	return &Authorizer{
		enforcer: enforcer,
	}, nil
}

// Authorize checks if the given subject has the given permission to
// perform the given action on the given object. It returns a
// codes.PermissionDenied status error if the subject lacks the
// permission.
func (a *Authorizer) Authorize(subject, object, action string) error {
	ok, err := a.enforcer.Enforce(subject, object, action)
	if err != nil {
		return status.New(codes.Internal, err.Error()).Err()
	}

	if !ok {
		msg := fmt.Sprintf(
			"%s not permitted to %s to %s",
			subject,
			action,
			object,
		)

		return status.New(codes.PermissionDenied, msg).Err()
	}

	return nil
}
