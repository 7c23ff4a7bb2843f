package domain

import (
	"chat-relay/errors"
	"encoding/json"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
)

const (
	TypeSetUsername   = "set_username"
	TypeCreateChannel = "create_channel"
	TypeSendMessage   = "send_message"
)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(field reflect.StructField) string {
		name := strings.SplitN(field.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// Command is a decoded client frame. The concrete type tells which kind
// the client declared.
type Command interface {
	Kind() string
}

type SetUsername struct {
	Username string `json:"username" validate:"required,max=64"`
}

func (SetUsername) Kind() string { return TypeSetUsername }

type CreateChannel struct{}

func (CreateChannel) Kind() string { return TypeCreateChannel }

type SendMessage struct {
	Message string `json:"message" validate:"required,max=4096"`
}

func (SendMessage) Kind() string { return TypeSendMessage }

// UnknownCommand carries a frame whose declared kind the relay does not handle.
type UnknownCommand struct {
	Type string
}

func (u UnknownCommand) Kind() string { return u.Type }

type envelope struct {
	Type string `json:"type"`
}

// DecodeFrame parses one client frame into its command.
// Unknown kinds are not an error: they decode to UnknownCommand.
func DecodeFrame(raw []byte) (Command, error) {
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, errors.MalformedInput("decode_frame", "Invalid message format", err)
	}

	var cmd Command
	switch env.Type {
	case TypeSetUsername:
		var c SetUsername
		if err := json.Unmarshal(raw, &c); err != nil {
			return nil, errors.MalformedInput("decode_frame", "Invalid message format", err)
		}
		cmd = c
	case TypeCreateChannel:
		cmd = CreateChannel{}
	case TypeSendMessage:
		var c SendMessage
		if err := json.Unmarshal(raw, &c); err != nil {
			return nil, errors.MalformedInput("decode_frame", "Invalid message format", err)
		}
		cmd = c
	default:
		return UnknownCommand{Type: env.Type}, nil
	}

	if err := validate.Struct(cmd); err != nil {
		return nil, errors.MalformedInput("validate_frame", describe(err), err)
	}
	return cmd, nil
}

// describe turns validator output into a short sentence a client can read.
func describe(err error) string {
	var fieldErrors validator.ValidationErrors
	if !errors.As(err, &fieldErrors) || len(fieldErrors) == 0 {
		return "Invalid message format"
	}
	fe := fieldErrors[0]
	switch fe.Tag() {
	case "required":
		return fmt.Sprintf("%s is required", fe.Field())
	case "max":
		return fmt.Sprintf("%s must be at most %s characters", fe.Field(), fe.Param())
	default:
		return fmt.Sprintf("%s is invalid", fe.Field())
	}
}
