package module

import (
	"testing"

	"github.com/fieldcycler/runtime/internal/valuetree"
)

func exampleContract() Contract {
	return Contract{
		ModuleName: "BallDetector",
		Inputs: []FieldSpec{
			NewFieldSpec("image", "Vision/$cycler_instance/image"),
			NewFieldSpec("calibration", "Vision/$cycler_instance/calibration?/matrix"),
		},
		Outputs: []FieldSpec{
			NewFieldSpec("ball_position", "$cycler_instance/ball_position"),
		},
		Parameters: []FieldSpec{
			NewFieldSpec("threshold", "detection/threshold"),
		},
	}
}

func TestBindResolvesInputsAndParameters(t *testing.T) {
	inputRoot := valuetree.Object(map[string]valuetree.Value{
		"Vision": valuetree.Object(map[string]valuetree.Value{
			"main": valuetree.Object(map[string]valuetree.Value{
				"image": valuetree.String("frame-bytes"),
			}),
		}),
	})
	paramRoot := valuetree.Object(map[string]valuetree.Value{
		"detection": valuetree.Object(map[string]valuetree.Value{
			"threshold": valuetree.Number(0.8),
		}),
	})

	ctx, err := Bind(exampleContract(), "main", inputRoot, paramRoot)
	if err != nil {
		t.Fatal(err)
	}
	image, ok := ctx.Input("image")
	if !ok {
		t.Fatal("expected image input to resolve")
	}
	if s, _ := image.String(); s != "frame-bytes" {
		t.Fatalf("unexpected image value: %v", s)
	}
	calibration, ok := ctx.Input("calibration")
	if !ok || !calibration.IsNull() {
		t.Fatalf("expected missing optional calibration to bind Null, got %+v ok=%v", calibration, ok)
	}
	threshold, ok := ctx.Parameter("threshold")
	if !ok {
		t.Fatal("expected threshold parameter to resolve")
	}
	if n, _ := threshold.Number(); n != 0.8 {
		t.Fatalf("unexpected threshold: %v", n)
	}
}

func TestBindFailsOnMissingRequiredInput(t *testing.T) {
	_, err := Bind(exampleContract(), "main", valuetree.Object(nil), valuetree.Object(map[string]valuetree.Value{
		"detection": valuetree.Object(map[string]valuetree.Value{"threshold": valuetree.Number(1)}),
	}))
	if err == nil {
		t.Fatal("expected missing required input to fail binding")
	}
}

func TestMaterializeWritesOutputsAtDeclaredPath(t *testing.T) {
	inputRoot := valuetree.Object(map[string]valuetree.Value{
		"Vision": valuetree.Object(map[string]valuetree.Value{
			"main": valuetree.Object(map[string]valuetree.Value{"image": valuetree.String("x")}),
		}),
	})
	paramRoot := valuetree.Object(map[string]valuetree.Value{
		"detection": valuetree.Object(map[string]valuetree.Value{"threshold": valuetree.Number(1)}),
	})
	ctx, err := Bind(exampleContract(), "main", inputRoot, paramRoot)
	if err != nil {
		t.Fatal(err)
	}
	if err := ctx.SetOutput("ball_position", valuetree.Number(42)); err != nil {
		t.Fatal(err)
	}
	materialized := ctx.Materialize()
	mainObj, ok := materialized.Field("main")
	if !ok {
		t.Fatalf("expected instance field in materialized output, got %+v", materialized)
	}
	pos, ok := mainObj.Field("ball_position")
	if !ok {
		t.Fatal("expected ball_position field")
	}
	if n, _ := pos.Number(); n != 42 {
		t.Fatalf("unexpected ball_position: %v", n)
	}
}

func TestSetOutputRejectsUndeclaredField(t *testing.T) {
	ctx, err := Bind(exampleContract(), "main", valuetree.Object(map[string]valuetree.Value{
		"Vision": valuetree.Object(map[string]valuetree.Value{
			"main": valuetree.Object(map[string]valuetree.Value{"image": valuetree.String("x")}),
		}),
	}), valuetree.Object(map[string]valuetree.Value{
		"detection": valuetree.Object(map[string]valuetree.Value{"threshold": valuetree.Number(1)}),
	}))
	if err != nil {
		t.Fatal(err)
	}
	if err := ctx.SetOutput("not_declared", valuetree.Number(1)); err == nil {
		t.Fatal("expected error for undeclared output field")
	}
}

func TestManifestRoundTrip(t *testing.T) {
	c := exampleContract()
	data, err := MarshalManifest(c)
	if err != nil {
		t.Fatal(err)
	}
	back, err := ParseContractManifest(data)
	if err != nil {
		t.Fatal(err)
	}
	if back.ModuleName != c.ModuleName || len(back.Inputs) != len(c.Inputs) {
		t.Fatalf("manifest round trip mismatch: %+v", back)
	}
}
