package domain

// Intent describes a single change to the column list.
type Intent interface {
	intent()
}

// ReplaceColumns swaps the whole column list, as after a full fetch.
type ReplaceColumns struct{ Columns []Column }

// AppendColumn adds a column at the end of the list.
type AppendColumn struct{ Column Column }

// AppendTask adds a task at the end of the column named by Task.ColumnID.
type AppendTask struct{ Task Task }

// ReplaceTask stores a server copy of a task in the column named by Task.ColumnID,
// dropping it from any other column it was in.
type ReplaceTask struct{ Task Task }

// RemoveTask drops a task from whichever column holds it.
type RemoveTask struct{ TaskID string }

// MoveTask moves a task from one column to the end of another.
type MoveTask struct {
	TaskID string
	From   string
	To     string
}

func (ReplaceColumns) intent() {}
func (AppendColumn) intent()   {}
func (AppendTask) intent()     {}
func (ReplaceTask) intent()    {}
func (RemoveTask) intent()     {}
func (MoveTask) intent()       {}

// Reduce applies in to columns and returns the resulting column list. The input
// is never modified; intents referring to unknown columns or tasks leave the
// result equal to the input.
func Reduce(columns []Column, in Intent) []Column {
	switch v := in.(type) {
	case ReplaceColumns:
		return normalize(CloneColumns(v.Columns))
	case AppendColumn:
		out := CloneColumns(columns)
		col := v.Column
		col.Tasks = cloneTasks(col.Tasks)
		return append(out, col)
	case AppendTask:
		out := CloneColumns(columns)
		ci := ColumnIndex(out, v.Task.ColumnID)
		if ci < 0 {
			return out
		}
		out[ci].Tasks = append(out[ci].Tasks, cloneTask(v.Task))
		return out
	case ReplaceTask:
		return replaceTask(columns, v.Task)
	case RemoveTask:
		out := CloneColumns(columns)
		for ci := range out {
			out[ci].Tasks = withoutTask(out[ci].Tasks, v.TaskID)
		}
		return out
	case MoveTask:
		return moveTask(columns, v)
	default:
		return CloneColumns(columns)
	}
}

func replaceTask(columns []Column, task Task) []Column {
	out := CloneColumns(columns)
	ci := ColumnIndex(out, task.ColumnID)
	if ci < 0 {
		return out
	}
	replaced := false
	for i := range out[ci].Tasks {
		if out[ci].Tasks[i].ID == task.ID {
			out[ci].Tasks[i] = cloneTask(task)
			replaced = true
			break
		}
	}
	for i := range out {
		if i == ci {
			continue
		}
		out[i].Tasks = withoutTask(out[i].Tasks, task.ID)
	}
	if !replaced {
		out[ci].Tasks = append(out[ci].Tasks, cloneTask(task))
	}
	return out
}

func moveTask(columns []Column, mv MoveTask) []Column {
	out := CloneColumns(columns)
	from := ColumnIndex(out, mv.From)
	to := ColumnIndex(out, mv.To)
	if from < 0 || to < 0 {
		return out
	}
	var (
		task  Task
		found bool
	)
	for _, t := range out[from].Tasks {
		if t.ID == mv.TaskID {
			task, found = t, true
			break
		}
	}
	if !found {
		return out
	}
	out[from].Tasks = withoutTask(out[from].Tasks, mv.TaskID)
	task.Order = len(out[to].Tasks)
	task.ColumnID = mv.To
	out[to].Tasks = append(out[to].Tasks, task)
	return out
}

func withoutTask(tasks []Task, taskID string) []Task {
	kept := tasks[:0]
	for _, t := range tasks {
		if t.ID != taskID {
			kept = append(kept, t)
		}
	}
	return kept
}

// normalize guarantees every column carries a non-nil task list.
func normalize(columns []Column) []Column {
	for i := range columns {
		if columns[i].Tasks == nil {
			columns[i].Tasks = []Task{}
		}
	}
	return columns
}
