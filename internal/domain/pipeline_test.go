package domain

import "testing"

func testDataset() Dataset {
	return Dataset{ID: "ds-1", Name: "german-credit-train-tutorial", Version: 3}
}

func TestNewDatasetParameterRequiresDefault(t *testing.T) {
	if _, err := NewDatasetParameter("training_dataset", Dataset{}); err == nil {
		t.Fatalf("expected error for empty default dataset")
	}
	if _, err := NewDatasetParameter("  ", testDataset()); err == nil {
		t.Fatalf("expected error for blank name")
	}
	param, err := NewDatasetParameter("training_dataset", testDataset())
	if err != nil {
		t.Fatalf("NewDatasetParameter: %v", err)
	}
	if param.Name() != "training_dataset" || param.Default().ID != "ds-1" {
		t.Fatalf("unexpected parameter: %q %+v", param.Name(), param.Default())
	}
}

func TestConsumptionModesReturnCopies(t *testing.T) {
	param, err := NewDatasetParameter("training_dataset", testDataset())
	if err != nil {
		t.Fatalf("NewDatasetParameter: %v", err)
	}
	base := NewConsumption("training_dataset", param)
	download := base.AsDownload()
	mount := base.AsMount()
	if download == mount {
		t.Fatalf("expected distinct bindings")
	}
	if download.Mode != AccessModeDownload || mount.Mode != AccessModeMount {
		t.Fatalf("unexpected modes: %q %q", download.Mode, mount.Mode)
	}
	if base.Mode != "" {
		t.Fatalf("base binding mutated: %q", base.Mode)
	}
	if download.Parameter != param || mount.Parameter != param {
		t.Fatalf("bindings must keep the same parameter")
	}
}

func TestParseAccessMode(t *testing.T) {
	tests := []struct {
		raw     string
		want    AccessMode
		wantErr bool
	}{
		{raw: "download", want: AccessModeDownload},
		{raw: " MOUNT ", want: AccessModeMount},
		{raw: "stream", wantErr: true},
		{raw: "", wantErr: true},
	}
	for _, tt := range tests {
		got, err := ParseAccessMode(tt.raw)
		if (err != nil) != tt.wantErr {
			t.Fatalf("ParseAccessMode(%q) err=%v, wantErr=%v", tt.raw, err, tt.wantErr)
		}
		if got != tt.want {
			t.Fatalf("ParseAccessMode(%q)=%q, want %q", tt.raw, got, tt.want)
		}
	}
}

func TestPipelineParametersDeduplicates(t *testing.T) {
	param, _ := NewDatasetParameter("training_dataset", testDataset())
	other, _ := NewDatasetParameter("validation_dataset", Dataset{ID: "ds-2", Name: "val"})
	train := NewConsumption("training_dataset", param).AsDownload()
	again := NewConsumption("training_dataset_mount", param).AsMount()
	val := NewConsumption("validation_dataset", other).AsDownload()

	p := Pipeline{Steps: []*ScriptStep{
		{Name: "a", Inputs: []*ConsumptionConfig{train, again}},
		nil,
		{Name: "b", Inputs: []*ConsumptionConfig{val, train}},
	}}
	got := p.Parameters()
	if len(got) != 2 || got[0] != param || got[1] != other {
		t.Fatalf("Parameters()=%v, want [training_dataset validation_dataset]", got)
	}
}

func TestComputeTargetProvisioned(t *testing.T) {
	if !(ComputeTarget{State: "Succeeded"}).Provisioned() {
		t.Fatalf("expected succeeded to be provisioned")
	}
	if (ComputeTarget{State: "creating"}).Provisioned() {
		t.Fatalf("expected creating to be unprovisioned")
	}
}
