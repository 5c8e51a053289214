package exn

import (
	"context"
	"testing"

	"github.com/Azure/go-amqp"
)

func TestAppID(t *testing.T) {
	subject := "app-from-subject"
	tests := []struct {
		name string
		msg  *amqp.Message
		want string
	}{
		{
			name: "application property",
			msg: &amqp.Message{
				ApplicationProperties: map[string]any{"application": "app-1"},
			},
			want: "app-1",
		},
		{
			name: "subject fallback",
			msg: &amqp.Message{
				Properties: &amqp.MessageProperties{Subject: &subject},
			},
			want: "app-from-subject",
		},
		{
			name: "property wins over subject",
			msg: &amqp.Message{
				ApplicationProperties: map[string]any{"application": "app-1"},
				Properties:            &amqp.MessageProperties{Subject: &subject},
			},
			want: "app-1",
		},
		{
			name: "nothing set",
			msg:  &amqp.Message{},
			want: "",
		},
		{
			name: "non-string property ignored",
			msg: &amqp.Message{
				ApplicationProperties: map[string]any{"application": 42},
			},
			want: "",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := appID(tt.msg); got != tt.want {
				t.Errorf("appID() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestMessageBody(t *testing.T) {
	data := amqp.NewMessage([]byte(`{"state":"started"}`))
	if got := string(messageBody(data)); got != `{"state":"started"}` {
		t.Errorf("data section body = %q", got)
	}

	value := &amqp.Message{Value: map[string]any{"state": "started"}}
	if got := string(messageBody(value)); got != `{"state":"started"}` {
		t.Errorf("value section body = %q", got)
	}

	if messageBody(&amqp.Message{}) != nil {
		t.Error("empty message should yield nil body")
	}
}

func TestPublish_NotStarted(t *testing.T) {
	c := New(Config{Host: "localhost", Port: 5672})
	if err := c.Publish(context.Background(), TwinStatusTopic, map[string]any{"state": "started"}, "app"); err == nil {
		t.Error("expected error publishing before Start")
	}
}
