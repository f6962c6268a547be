package handler

import (
	"fmt"
	"reflect"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/jwalitptl/referral-api/internal/authz"
	"github.com/jwalitptl/referral-api/pkg/errors"
	"github.com/jwalitptl/referral-api/pkg/httputil"
)

// Caller returns the authenticated caller. It responds 401 when the route is
// not behind the auth middleware.
func Caller(c *gin.Context) (authz.Caller, bool) {
	caller, ok := authz.CallerFrom(c.Request.Context())
	if !ok {
		httputil.RespondWithError(c, errors.Unauthorized(fmt.Errorf("no authenticated caller")))
		return authz.Caller{}, false
	}
	return caller, true
}

// ParamID parses a uuid path parameter, responding 400 when it is malformed.
func ParamID(c *gin.Context, name string) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param(name))
	if err != nil {
		httputil.RespondWithError(c, errors.Validation("invalid %s", name))
		return uuid.Nil, false
	}
	return id, true
}

// BindJSON binds and validates the request body. An empty body is accepted
// when optional is set, for transitions whose body carries only notes.
func BindJSON(c *gin.Context, obj interface{}, optional bool) bool {
	if optional && c.Request.ContentLength == 0 {
		return true
	}
	if err := c.ShouldBindJSON(obj); err != nil {
		httputil.RespondWithBindError(c, err)
		return false
	}
	return true
}

// BindQuery fills the `query`-tagged uuid fields of obj, then binds the rest
// with gin's form binding, which cannot decode uuid.UUID.
func BindQuery(c *gin.Context, obj interface{}) bool {
	if err := bindUUIDs(c, reflect.ValueOf(obj).Elem()); err != nil {
		httputil.RespondWithError(c, err)
		return false
	}
	if err := c.ShouldBindQuery(obj); err != nil {
		httputil.RespondWithBindError(c, err)
		return false
	}
	return true
}

var uuidType = reflect.TypeOf(uuid.UUID{})

func bindUUIDs(c *gin.Context, v reflect.Value) error {
	t := v.Type()
	for i := 0; i < t.NumField(); i++ {
		field := t.Field(i)
		if field.Anonymous && field.Type.Kind() == reflect.Struct {
			if err := bindUUIDs(c, v.Field(i)); err != nil {
				return err
			}
			continue
		}
		name := field.Tag.Get("query")
		if name == "" {
			continue
		}
		raw := c.Query(name)
		if raw == "" {
			continue
		}
		id, err := uuid.Parse(raw)
		if err != nil {
			return errors.Validation("invalid %s", name)
		}
		switch field.Type {
		case uuidType:
			v.Field(i).Set(reflect.ValueOf(id))
		case reflect.PointerTo(uuidType):
			v.Field(i).Set(reflect.ValueOf(&id))
		}
	}
	return nil
}

// QueryTime parses an RFC3339 query parameter, falling back to def when absent.
func QueryTime(c *gin.Context, name string, def time.Time) (time.Time, bool) {
	raw := c.Query(name)
	if raw == "" {
		return def, true
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		httputil.RespondWithError(c, errors.Validation("%s must be an RFC3339 timestamp", name))
		return time.Time{}, false
	}
	return t, true
}

// QueryFloat parses a required float query parameter.
func QueryFloat(c *gin.Context, name string) (float64, bool) {
	f, err := strconv.ParseFloat(c.Query(name), 64)
	if err != nil {
		httputil.RespondWithError(c, errors.Validation("%s must be a number", name))
		return 0, false
	}
	return f, true
}
