package persona

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"slices"
	"strings"

	"github.com/MrWong99/replica/internal/order"
	"github.com/MrWong99/replica/pkg/types"
)

// Orders understood by the demo handlers.
const (
	AnchorWeather    types.Anchor = "weather_forecast"
	AnchorEmails     types.Anchor = "check_emails"
	AnchorAlarmClock types.Anchor = "alarm_clock"
	AnchorBuyPizza   types.Anchor = "buy_pizza"
)

// Slot roles read by the demo handlers.
const (
	RoleWhen     = "когда"
	RoleObject   = "объект"
	RoleQuantity = "количество"
)

// DemoHandlers returns the handlers of the console demo. They perform no real
// work and echo the slots they received.
func DemoHandlers() map[types.Anchor]order.Handler {
	return map[types.Anchor]order.Handler{
		AnchorWeather: order.HandlerFunc(func(_ context.Context, t order.Turn) (string, bool, error) {
			when := t.Bot.ExtractEntity(RoleWhen, t.Phrase)
			return fmt.Sprintf("Прогноз погоды на момент времени \"%s\" сгенерирован для демонстрации", when), true, nil
		}),
		AnchorEmails: order.HandlerFunc(func(context.Context, order.Turn) (string, bool, error) {
			return "Фиктивная проверка почты", true, nil
		}),
		AnchorAlarmClock: order.HandlerFunc(func(_ context.Context, t order.Turn) (string, bool, error) {
			return fmt.Sprintf("Фиктивный будильник для \"%s\"", t.Bot.ExtractEntity(RoleWhen, t.Phrase)), true, nil
		}),
		AnchorBuyPizza: order.HandlerFunc(func(_ context.Context, t order.Turn) (string, bool, error) {
			what := t.Bot.ExtractEntity(RoleObject, t.Phrase)
			count := t.Bot.ExtractEntity(RoleQuantity, t.Phrase)
			return fmt.Sprintf("Заказываю: что=\"%s\", сколько=\"%s\"", what, count), true, nil
		}),
	}
}

// RegisterDemo adds every demo handler to p, skipping anchors listed in
// skip. All registration errors are reported.
func RegisterDemo(p *Persona, skip ...types.Anchor) error {
	handlers := DemoHandlers()
	var errs []error
	for _, a := range slices.Sorted(maps.Keys(handlers)) {
		if slices.Contains(skip, a) {
			continue
		}
		errs = append(errs, p.AddEventHandler(a, handlers[a]))
	}
	return errors.Join(errs...)
}

// stopCommands end an interactive conversation.
var stopCommands = []string{`\q`, `\exit`, `\quit`, "/stop"}

// IsStopCommand reports whether text asks the front-end to end the
// conversation.
func IsStopCommand(text string) bool {
	return slices.Contains(stopCommands, strings.ToLower(strings.TrimSpace(text)))
}
