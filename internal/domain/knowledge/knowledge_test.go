package knowledge

import "testing"

func TestParseScope(t *testing.T) {
	for _, s := range []string{"global", "project"} {
		got, err := ParseScope(s)
		if err != nil || string(got) != s {
			t.Errorf("ParseScope(%q) = %q, %v", s, got, err)
		}
	}
	for _, s := range []string{"", "Global", "all"} {
		if _, err := ParseScope(s); err == nil {
			t.Errorf("ParseScope(%q): expected error", s)
		}
	}
}

func TestGroupByScope(t *testing.T) {
	results := []SearchResult{
		{Chunk: Chunk{ID: "1", Scope: ScopeGlobal}, Score: 0.9},
		{Chunk: Chunk{ID: "2", Scope: ScopeProject}, Score: 0.8},
		{Chunk: Chunk{ID: "3", Scope: ScopeGlobal}, Score: 0.7},
		{Chunk: Chunk{ID: "4", Scope: ScopeProject}, Score: 0.6},
	}

	global, project := GroupByScope(results)

	if len(global) != 2 || global[0].Chunk.ID != "1" || global[1].Chunk.ID != "3" {
		t.Errorf("global = %+v", global)
	}
	if len(project) != 2 || project[0].Chunk.ID != "2" || project[1].Chunk.ID != "4" {
		t.Errorf("project = %+v", project)
	}
}
