package prompts

import (
	"context"
	"embed"
	"fmt"
	"strings"

	"github.com/cloudwego/eino/components/prompt"
	"github.com/cloudwego/eino/schema"

	"github.com/communityfinder/server/internal/agent/model"
)

//go:embed template/*.tmpl
var templates embed.FS

// Name identifies one prompt template.
type Name string

const (
	Validate           Name = "validate"
	ShelterFilter      Name = "shelter_filter"
	FamilyCenterFilter Name = "family_center_filter"
	Evaluate           Name = "evaluate"
	Generate           Name = "generate"
)

// OccupancyThreshold is the room occupancy percentage above which a shelter
// counts as nearly full.
const OccupancyThreshold = 85

// Vars returns the fixed template variables for name.
func Vars(name Name) map[string]any {
	switch name {
	case ShelterFilter:
		return map[string]any{
			"Sectors":      quoteList(model.ShelterSectors),
			"ServiceTypes": quoteList(model.ShelterServiceTypes),
		}
	case FamilyCenterFilter:
		return map[string]any{"Languages": strings.Join(model.SupportedLanguages, ", ")}
	case Evaluate:
		return map[string]any{"OccupancyThreshold": OccupancyThreshold}
	}
	return map[string]any{}
}

// Render formats the system template for name followed by the user content.
// Rendering goes through the eino prompt component so prompt callbacks fire.
func Render(ctx context.Context, name Name, user string) ([]*schema.Message, error) {
	raw, err := templates.ReadFile("template/" + string(name) + ".tmpl")
	if err != nil {
		return nil, fmt.Errorf("prompt %s: %w", name, err)
	}

	tpl := prompt.FromMessages(
		schema.GoTemplate,
		schema.SystemMessage(string(raw)),
		schema.MessagesPlaceholder("user_messages", false),
	)
	vars := Vars(name)
	vars["user_messages"] = []*schema.Message{schema.UserMessage(user)}

	msgs, err := tpl.Format(ctx, vars)
	if err != nil {
		return nil, fmt.Errorf("prompt %s render: %w", name, err)
	}
	if len(msgs) < 2 {
		return nil, fmt.Errorf("prompt %s render: empty result", name)
	}
	return msgs, nil
}

func quoteList(items []string) string {
	quoted := make([]string, len(items))
	for i, s := range items {
		quoted[i] = fmt.Sprintf("%q", s)
	}
	return "[" + strings.Join(quoted, ", ") + "]"
}
