package query

import "sort"

// FilterInMemory returns the models accepted by every criterion, in
// their original order. An empty criteria list returns the input slice
// unchanged. Nil criteria are skipped; a nil model list or a nil model
// element is an error.
func FilterInMemory(models []any, criteria ...FilterCriterion) ([]any, error) {
	if models == nil {
		return nil, ErrNilList
	}

	live := criteria[:0:0]

	for _, c := range criteria {
		if c != nil {
			live = append(live, c)
		}
	}

	if len(live) == 0 {
		return models, nil
	}

	out := make([]any, 0, len(models))

	for _, model := range models {
		if model == nil {
			return nil, ErrNilModel
		}

		accepted := true

		for _, c := range live {
			ok, err := c.Accept(model)

			if err != nil {
				return nil, err
			}

			if !ok {
				accepted = false

				break
			}
		}

		if accepted {
			out = append(out, model)
		}
	}

	return out, nil
}

// SortInMemory stably sorts the models in place by the criteria, later
// criteria breaking ties left by earlier ones, and returns the same
// slice. An empty criteria list leaves the order untouched.
func SortInMemory(models []any, criteria ...SortCriterion) ([]any, error) {
	if models == nil {
		return nil, ErrNilList
	}

	live := criteria[:0:0]

	for _, c := range criteria {
		if c != nil {
			live = append(live, c)
		}
	}

	if len(live) == 0 {
		return models, nil
	}

	for _, model := range models {
		if model == nil {
			return nil, ErrNilModel
		}
	}

	var sortErr error

	sort.SliceStable(models, func(i, j int) bool {
		if sortErr != nil {
			return false
		}

		for _, c := range live {
			cmp, err := c.Compare(models[i], models[j])

			if err != nil {
				sortErr = err

				return false
			}

			if cmp != 0 {
				return cmp < 0
			}
		}

		return false
	})

	if sortErr != nil {
		return nil, sortErr
	}

	return models, nil
}
