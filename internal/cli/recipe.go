package cli

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/prepchain/internal/action"
	"github.com/roach88/prepchain/internal/recipe"
)

// NewRecipeCommand creates the recipe command group.
func NewRecipeCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "recipe",
		Short: "Check and apply CUE recipe files",
		Long: `Check and apply recipe files written in CUE.

A recipe file declares named recipes under a top-level "recipe" struct:

  recipe: customers: {
      dataset: "customers"
      steps: [
          {action: "uppercase", params: column_id: "0000"},
          {actions: [
              {action: "negate", params: column_id: "0001"},
              {action: "deduplicate"},
          ]},
      ]
  }

Each entry of steps becomes one step of the chain.`,
	}
	cmd.AddCommand(newRecipeValidateCommand(rootOpts), newRecipeApplyCommand(rootOpts))
	return cmd
}

// loadRecipes reads a single .cue file or every file of a CUE package
// directory.
func loadRecipes(path string) ([]recipe.Recipe, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "cannot read recipes", err)
	}
	var recipes []recipe.Recipe
	if info.IsDir() {
		recipes, err = recipe.LoadDir(path)
	} else {
		recipes, err = recipe.LoadFile(path)
	}
	if err != nil {
		return nil, WrapExitError(ExitFailure, "invalid recipe", err)
	}
	return recipes, nil
}

// checkRecipes validates every action against the action catalog.
func checkRecipes(reg *action.Registry, recipes []recipe.Recipe) error {
	for _, r := range recipes {
		for i, step := range r.Steps {
			for _, a := range step {
				if err := reg.Validate(a); err != nil {
					return fmt.Errorf("recipe %s step %d: %w", r.Name, i+1, err)
				}
			}
		}
	}
	return nil
}

// RecipeView summarizes one compiled recipe.
type RecipeView struct {
	Name      string `json:"name"`
	DatasetID string `json:"dataset_id"`
	Steps     int    `json:"steps"`
	Actions   int    `json:"actions"`
}

// RecipeListView lists compiled recipes.
type RecipeListView []RecipeView

func (v RecipeListView) String() string {
	if len(v) == 0 {
		return "No recipes found."
	}
	lines := make([]string, len(v))
	for i, r := range v {
		lines[i] = fmt.Sprintf("✓ %s  dataset=%s  steps=%d  actions=%d", r.Name, r.DatasetID, r.Steps, r.Actions)
	}
	return strings.Join(lines, "\n")
}

func newRecipeValidateCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "validate <file|dir>",
		Short: "Compile recipes and check their actions",
		Long: `Compile recipes and check every action name and required parameter
against the built-in catalog. Nothing is written.

Exit codes:
  0 - All recipes are valid
  1 - A recipe failed to compile or names a bad action
  2 - Command error (unreadable path)`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f := opts.formatter(cmd)
			recipes, err := loadRecipes(args[0])
			if err != nil {
				return f.Fail(err)
			}
			if err := checkRecipes(action.NewBuiltinRegistry(action.Env{}), recipes); err != nil {
				return f.Fail(err)
			}
			out := make(RecipeListView, len(recipes))
			for i, r := range recipes {
				out[i] = RecipeView{Name: r.Name, DatasetID: r.DatasetID, Steps: len(r.Steps), Actions: len(r.Actions())}
			}
			return f.Success(out)
		},
	}
}

// AppliedRecipeView reports the preparation a recipe was applied to.
type AppliedRecipeView struct {
	Recipe        string `json:"recipe"`
	PreparationID string `json:"preparation_id"`
	DatasetID     string `json:"dataset_id"`
	Head          string `json:"head"`
	Steps         int    `json:"steps"`
}

// AppliedRecipeListView lists applied recipes.
type AppliedRecipeListView []AppliedRecipeView

func (v AppliedRecipeListView) String() string {
	if len(v) == 0 {
		return "No recipes found."
	}
	lines := make([]string, len(v))
	for i, r := range v {
		lines[i] = fmt.Sprintf("%s -> %s  dataset=%s  steps=%d  head=%s",
			r.Recipe, r.PreparationID, r.DatasetID, r.Steps, shortID(r.Head))
	}
	return strings.Join(lines, "\n")
}

func newRecipeApplyCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "apply <file|dir>",
		Short: "Create one preparation per recipe",
		Long: `Create one preparation per recipe, named after the recipe and owned by
--user, and append the recipe's steps in order.

All recipes are checked before anything is written.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			recipes, err := loadRecipes(args[0])
			if err != nil {
				return opts.formatter(cmd).Fail(err)
			}
			return execute(opts, cmd, func(ctx context.Context, a *app) (any, error) {
				if err := checkRecipes(a.svc.Registry(), recipes); err != nil {
					return nil, err
				}
				out := make(AppliedRecipeListView, 0, len(recipes))
				for _, r := range recipes {
					applied, err := applyRecipe(ctx, a, r)
					if err != nil {
						return nil, fmt.Errorf("apply recipe %s: %w", r.Name, err)
					}
					out = append(out, applied)
				}
				return out, nil
			})
		},
	}
}

func applyRecipe(ctx context.Context, a *app, r recipe.Recipe) (AppliedRecipeView, error) {
	prep, err := a.svc.CreatePreparation(ctx, r.DatasetID, r.Name, a.user)
	if err != nil {
		return AppliedRecipeView{}, err
	}
	head := prep.Head
	for _, step := range r.Steps {
		res, err := a.svc.Append(ctx, prep.ID, step, a.user)
		if err != nil {
			return AppliedRecipeView{}, err
		}
		head = res.Head()
	}
	a.logger.Debug("recipe applied", "recipe", r.Name, "preparation_id", prep.ID, "steps", len(r.Steps))
	return AppliedRecipeView{
		Recipe:        r.Name,
		PreparationID: prep.ID,
		DatasetID:     r.DatasetID,
		Head:          head,
		Steps:         len(r.Steps),
	}, nil
}
