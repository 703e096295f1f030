package form

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const residentialFixture = `{
	"id": "local-7",
	"case_id": "4411",
	"residential_details": {
		"name_of_person_met": "Sunita",
		"met_person_relation": "self",
		"member_count": "4",
		"house_interior": "other",
		"house_interior_other": "semi-furnished",
		"gate_color": "blue"
	},
	"case_status": "positive",
	"additional_remark": "verified at residence",
	"locationPictures": [{"uri": "file:///a.jpg"}],
	"photo_source": "camera"
}`

const businessFixture = `{
	"met_person_name": "Imran",
	"relation": "owner",
	"type_of_business": "self_employed",
	"self_employed": {
		"nature_of_business": "retail",
		"stocks": "adequate",
		"gst_bill_visiting_card_seen": "yes"
	},
	"service": {
		"designation": ""
	},
	"neighbour_1_details": "tea stall",
	"signboard_seen_with_name": "yes",
	"case_status": "negative",
	"rejection_reason": "address_not_found",
	"additional_remark": "shop shut"
}`

// assertPreserved checks that every key of want appears in got with the
// same value.
func assertPreserved(t *testing.T, want, got map[string]any) {
	t.Helper()

	for k, wv := range want {
		gv, ok := got[k]
		if !assert.True(t, ok, "key %q dropped", k) {
			continue
		}

		if wm, isMap := wv.(map[string]any); isMap {
			gm, gIsMap := gv.(map[string]any)
			require.True(t, gIsMap, "key %q is no longer an object", k)
			assertPreserved(t, wm, gm)

			continue
		}

		assert.Equal(t, wv, gv, "key %q", k)
	}
}

func roundTrip(t *testing.T, p *Payload) map[string]any {
	t.Helper()

	data, err := json.Marshal(p)
	require.NoError(t, err)

	var out map[string]any
	require.NoError(t, json.Unmarshal(data, &out))

	return out
}

func TestParse_Residential(t *testing.T) {
	t.Parallel()

	p, err := Parse(json.RawMessage(residentialFixture), "rv")
	require.NoError(t, err)

	assert.Equal(t, KindResidential, p.Kind)
	assert.False(t, p.IsBusiness())
	require.NotNil(t, p.Residential)
	assert.Equal(t, Text("Sunita"), p.Residential.NameOfPersonMet)
	assert.Equal(t, Text("semi-furnished"), p.Residential.HouseInteriorOther)
	assert.Equal(t, "blue", p.Residential.Extra["gate_color"])
	assert.Equal(t, Text("positive"), p.Common.CaseStatus)
	assert.Equal(t, "4411", p.Extra["case_id"])
	assert.Contains(t, p.Extra, "locationPictures")
	assert.Nil(t, p.SelfEmployed)
}

func TestParse_BusinessVariants(t *testing.T) {
	t.Parallel()

	p, err := Parse(json.RawMessage(businessFixture), "BV")
	require.NoError(t, err)
	assert.Equal(t, KindSelfEmployed, p.Kind)
	assert.True(t, p.IsBusiness())
	assert.Equal(t, Text("retail"), p.SelfEmployed.NatureOfBusiness)
	require.NotNil(t, p.Service)

	p, err = Parse(json.RawMessage(`{"type_of_business":"service","service":{"designation":"clerk"}}`), "bv")
	require.NoError(t, err)
	assert.Equal(t, KindService, p.Kind)
	assert.Equal(t, Text("clerk"), p.Service.Designation)

	p, err = Parse(json.RawMessage(`{"met_person_name":"x"}`), "bv")
	require.NoError(t, err)
	assert.Equal(t, KindBusiness, p.Kind)
}

func TestParse_InfersKindWithoutCaseType(t *testing.T) {
	t.Parallel()

	p, err := Parse(json.RawMessage(residentialFixture), "")
	require.NoError(t, err)
	assert.Equal(t, KindResidential, p.Kind)

	p, err = Parse(json.RawMessage(businessFixture), "")
	require.NoError(t, err)
	assert.Equal(t, KindSelfEmployed, p.Kind)

	p, err = Parse(json.RawMessage(`{"case_status":"positive"}`), "")
	require.NoError(t, err)
	assert.Equal(t, KindUnknown, p.Kind)
}

// Residential case types win over business fields in the payload, since the
// wizard always carries every section.
func TestParse_CaseTypeWins(t *testing.T) {
	t.Parallel()

	p, err := Parse(json.RawMessage(businessFixture), "Rv-Home")
	require.NoError(t, err)
	assert.Equal(t, KindResidential, p.Kind)
}

func TestParse_NotAnObject(t *testing.T) {
	t.Parallel()

	for _, raw := range []string{`[]`, `"x"`, `null`, `{`} {
		_, err := Parse(json.RawMessage(raw), "rv")
		require.ErrorIs(t, err, ErrNotObject, raw)
	}
}

func TestParse_NumericFieldsBecomeText(t *testing.T) {
	t.Parallel()

	p, err := Parse(json.RawMessage(`{"residential_details":{"member_count":4,"earning_member_count":null},"case_status":true}`), "rv")
	require.NoError(t, err)
	assert.Equal(t, Text("4"), p.Residential.MemberCount)
	assert.Equal(t, Text(""), p.Residential.EarningMemberCount)
	assert.Equal(t, Text("true"), p.Common.CaseStatus)

	p, err = Parse(json.RawMessage(`{"case_status":{"nested":1}}`), "rv")
	require.NoError(t, err)
	assert.Equal(t, Text(""), p.Common.CaseStatus)
	assert.Equal(t, map[string]any{"nested": json.Number("1")}, p.Map()["case_status"])
}

func TestParse_ArrayFields(t *testing.T) {
	t.Parallel()

	const raw = `{"residential_details":{"name_of_person_met":"Asha","id_proof_seen":["aadhar","pan"]}}`

	p, err := Parse(json.RawMessage(raw), "rv")
	require.NoError(t, err)
	assert.Equal(t, Text(""), p.Residential.IDProofSeen)

	data, err := json.Marshal(p)
	require.NoError(t, err)
	assert.JSONEq(t, raw, string(data))
}

func TestMap_KeepsStoredValues(t *testing.T) {
	t.Parallel()

	const raw = `{
		"case_status": "positive",
		"residential_details": {"member_count": 4, "landmark": "", "earning_member_count": null}
	}`

	p, err := Parse(json.RawMessage(raw), "rv")
	require.NoError(t, err)

	section, ok := p.Map()[KeyResidential].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, json.Number("4"), section["member_count"])
	assert.Len(t, section, 3, "unset typed fields are not added")

	data, err := json.Marshal(p)
	require.NoError(t, err)
	assert.JSONEq(t, raw, string(data))
}

func TestMap_WritesChangedFields(t *testing.T) {
	t.Parallel()

	p, err := Parse(json.RawMessage(`{"case_status":"positive","residential_details":{"member_count":4}}`), "rv")
	require.NoError(t, err)

	p.Common.CaseStatus = "negative"
	p.Residential.MemberCount = "5"
	p.Residential.NameOfPersonMet = "Asha"

	got := p.Map()
	assert.Equal(t, "negative", got["case_status"])

	section, ok := got[KeyResidential].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "5", section["member_count"])
	assert.Equal(t, "Asha", section["name_of_person_met"])
}

func TestParse_NonObjectSectionKept(t *testing.T) {
	t.Parallel()

	p, err := Parse(json.RawMessage(`{"residential_details":null,"self_employed":"n/a"}`), "rv")
	require.NoError(t, err)
	assert.Nil(t, p.Residential)
	assert.Nil(t, p.SelfEmployed)

	data, err := json.Marshal(p)
	require.NoError(t, err)
	assert.JSONEq(t, `{"residential_details":null,"self_employed":"n/a"}`, string(data))
}

func TestMap_PreservesEveryKey(t *testing.T) {
	t.Parallel()

	for name, fixture := range map[string]string{
		"residential": residentialFixture,
		"business":    businessFixture,
	} {
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			p, err := Parse(json.RawMessage(fixture), "")
			require.NoError(t, err)

			var want map[string]any
			require.NoError(t, json.Unmarshal([]byte(fixture), &want))

			assertPreserved(t, want, roundTrip(t, p))
		})
	}
}

func TestMap_ReparseIsStable(t *testing.T) {
	t.Parallel()

	p, err := Parse(json.RawMessage(businessFixture), "bv")
	require.NoError(t, err)

	first, err := json.Marshal(p)
	require.NoError(t, err)

	again, err := Parse(first, "bv")
	require.NoError(t, err)

	second, err := json.Marshal(again)
	require.NoError(t, err)

	assert.JSONEq(t, string(first), string(second))
	assert.Equal(t, p.Kind, again.Kind)
}

func TestCaseKind(t *testing.T) {
	t.Parallel()

	assert.Equal(t, KindResidential, CaseKind("rv"))
	assert.Equal(t, KindResidential, CaseKind(" Rv "))
	assert.Equal(t, KindBusiness, CaseKind("bv"))
	assert.Equal(t, KindBusiness, CaseKind("office"))
	assert.Equal(t, KindUnknown, CaseKind(""))
}
