package policy

import "testing"

func TestClassifyVocabularies(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		want Capability
	}{
		// Sensitive verbs gate the call behind approval.
		{"send_email", Capability{ParallelSafe: false, RequiresApproval: true}},
		{"delete_record", Capability{ParallelSafe: false, RequiresApproval: true}},
		{"create_ticket", Capability{ParallelSafe: false, RequiresApproval: true}},
		{"deploy_service", Capability{ParallelSafe: false, RequiresApproval: true}},
		{"install_package", Capability{ParallelSafe: false, RequiresApproval: true}},
		{"remove_user", Capability{ParallelSafe: false, RequiresApproval: true}},
		{"execute_query", Capability{ParallelSafe: false, RequiresApproval: true}},

		// Sequential-only verbs serialize without approval.
		{"migrate_schema", Capability{ParallelSafe: false, RequiresApproval: false}},
		{"backup_database", Capability{ParallelSafe: false, RequiresApproval: false}},
		{"restore_snapshot", Capability{ParallelSafe: false, RequiresApproval: false}},
		{"edit_document", Capability{ParallelSafe: false, RequiresApproval: false}},

		// Verbs in both vocabularies: sensitive wins.
		{"update_profile", Capability{ParallelSafe: false, RequiresApproval: true}},
		{"write_config", Capability{ParallelSafe: false, RequiresApproval: true}},
		{"modify_settings", Capability{ParallelSafe: false, RequiresApproval: true}},

		// The human-input tool is never parallel and never gated on itself.
		{HumanInputTool, Capability{ParallelSafe: false, RequiresApproval: false}},

		// Matching is case-insensitive and substring-based.
		{"Send_Email", Capability{ParallelSafe: false, RequiresApproval: true}},
		{"bulk_DELETE", Capability{ParallelSafe: false, RequiresApproval: true}},

		// Unknown names default to safe, parallel-friendly reads.
		{"web_search", Capability{ParallelSafe: true, RequiresApproval: false}},
		{"read_file", Capability{ParallelSafe: true, RequiresApproval: false}},
		{"fetch_page", Capability{ParallelSafe: true, RequiresApproval: false}},
		{"", Capability{ParallelSafe: true, RequiresApproval: false}},
	}
	for _, tc := range cases {
		if got := Classify(tc.name); got != tc.want {
			t.Errorf("Classify(%q) = %+v, want %+v", tc.name, got, tc.want)
		}
	}
}

func TestClassifyIsDeterministic(t *testing.T) {
	t.Parallel()

	names := []string{"send_email", "migrate_schema", "web_search", HumanInputTool, "x", ""}
	for _, name := range names {
		first := Classify(name)
		for range 5 {
			if got := Classify(name); got != first {
				t.Fatalf("Classify(%q) varied: %+v then %+v", name, first, got)
			}
		}
	}
}

func TestApprovalImpliesSequential(t *testing.T) {
	t.Parallel()

	// No name may classify as both approval-gated and parallel-safe.
	names := []string{
		"send_email", "delete_record", "update_profile", "write_config",
		"migrate_schema", "web_search", HumanInputTool, "", "tool",
		"create_then_delete", "read_then_write",
	}
	for _, name := range names {
		cap := Classify(name)
		if cap.RequiresApproval && cap.ParallelSafe {
			t.Errorf("Classify(%q) = %+v: approval-gated call marked parallel-safe", name, cap)
		}
	}
}

func TestClassifierDeclaredWins(t *testing.T) {
	t.Parallel()

	c := NewClassifier()
	// Vocabulary would gate this name; the declaration overrides it.
	c.Declare("send_newsletter", Capability{ParallelSafe: true, RequiresApproval: false})

	if got := c.Classify("send_newsletter"); !got.ParallelSafe || got.RequiresApproval {
		t.Errorf("declared capability not honored: %+v", got)
	}
	// Undeclared names still fall back to the vocabularies.
	if got := c.Classify("send_email"); !got.RequiresApproval {
		t.Errorf("fallback classification = %+v", got)
	}
}

func TestDeclareClampsParallelForGatedTools(t *testing.T) {
	t.Parallel()

	c := NewClassifier()
	c.Declare("custom_action", Capability{ParallelSafe: true, RequiresApproval: true})

	got := c.Classify("custom_action")
	if !got.RequiresApproval {
		t.Fatalf("declared approval lost: %+v", got)
	}
	if got.ParallelSafe {
		t.Errorf("gated declaration must be clamped to sequential: %+v", got)
	}
}
