package tools

import (
	"context"
	"fmt"
	"strings"

	"github.com/linkerlin/laterclaw/internal/db"
	"github.com/linkerlin/laterclaw/internal/llm"
	"github.com/linkerlin/laterclaw/internal/types"
)

// ListStore is the keyed-record storage behind the lists tool.
type ListStore interface {
	AddListItem(ctx context.Context, ownerID, list, item string) (bool, error)
	RemoveListItem(ctx context.Context, ownerID, list, item string) (bool, error)
	ListItems(ctx context.Context, ownerID, list string) ([]db.ListItem, error)
	ClearList(ctx context.Context, ownerID, list string) (int64, error)
	ListNames(ctx context.Context, ownerID string) ([]string, error)
}

// Lists manages named per-user lists (groceries, todo, ...).
type Lists struct {
	store ListStore
}

func NewLists(store ListStore) *Lists { return &Lists{store: store} }

func (l *Lists) Name() string { return "lists" }

func (l *Lists) Description() string {
	return "Manage the user's named lists: add or remove an item, show one list, clear a list, or show the names of all lists."
}

func (l *Lists) Parameters() *llm.Schema {
	return &llm.Schema{
		Type: "object",
		Properties: map[string]*llm.Schema{
			"action": stringProp("Operation to perform.", "add", "remove", "show", "clear", "all"),
			"list":   stringProp("List name, e.g. groceries."),
			"item":   stringProp("Item text for add and remove."),
		},
		Required: []string{"action"},
	}
}

func (l *Lists) Call(ctx context.Context, ec types.ExecContext, args map[string]any) (string, error) {
	action := argString(args, "action")
	list := strings.ToLower(argString(args, "list"))
	item := argString(args, "item")

	if action == "all" {
		names, err := l.store.ListNames(ctx, ec.UserID)
		if err != nil {
			return "", err
		}
		if len(names) == 0 {
			return "You have no lists yet.", nil
		}
		return "Your lists: " + strings.Join(names, ", ") + ".", nil
	}
	if list == "" {
		return "Missing list name.", nil
	}

	switch action {
	case "add", "remove":
		if item == "" {
			return "Missing item.", nil
		}
		if action == "add" {
			added, err := l.store.AddListItem(ctx, ec.UserID, list, item)
			if err != nil {
				return "", err
			}
			if !added {
				return fmt.Sprintf("%q is already on %s.", item, list), nil
			}
			return fmt.Sprintf("Added %q to %s.", item, list), nil
		}
		removed, err := l.store.RemoveListItem(ctx, ec.UserID, list, item)
		if err != nil {
			return "", err
		}
		if !removed {
			return fmt.Sprintf("%q is not on %s.", item, list), nil
		}
		return fmt.Sprintf("Removed %q from %s.", item, list), nil
	case "show":
		items, err := l.store.ListItems(ctx, ec.UserID, list)
		if err != nil {
			return "", err
		}
		if len(items) == 0 {
			return fmt.Sprintf("%s is empty.", list), nil
		}
		var b strings.Builder
		b.WriteString(list + ":")
		for _, it := range items {
			b.WriteString("\n- " + it.Item)
		}
		return b.String(), nil
	case "clear":
		n, err := l.store.ClearList(ctx, ec.UserID, list)
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("Cleared %s (%d item(s) removed).", list, n), nil
	default:
		return fmt.Sprintf("Unknown action %q. Use add, remove, show, clear or all.", action), nil
	}
}
