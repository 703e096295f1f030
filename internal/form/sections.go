package form

// Residential holds the residence verification details
// (the "residential_details" object).
type Residential struct {
	NameOfPersonMet                       Text `json:"name_of_person_met"`
	MetPersonRelation                     Text `json:"met_person_relation"`
	OtherRelation                         Text `json:"other_relation"`
	IDProofSeen                           Text `json:"id_proof_seen"`
	MemberCount                           Text `json:"member_count"`
	EarningMemberCount                    Text `json:"earning_member_count"`
	DependentMemberCount                  Text `json:"dependent_member_count"`
	TotalStability                        Text `json:"total_stability"`
	StabilityLess6MonthLastAddressConfirm Text `json:"stability_less_6_month_last_address_confirm"`
	ResidenceOwnership                    Text `json:"residence_ownership"`
	ResidenceOwnershipOther               Text `json:"residence_ownership_other"`
	AgriLandWithLocation                  Text `json:"agri_land_with_location"`
	ApplicantWorkingCompanyNameLocation   Text `json:"applicant_working_company_name_location"`
	VehicleDetails                        Text `json:"vehicle_details"`
	HouseClassLocality                    Text `json:"house_class_locality"`
	HouseInterior                         Text `json:"house_interior"`
	HouseInteriorOther                    Text `json:"house_interior_other"`
	LivingStandard                        Text `json:"living_standard"`
	LivingStandardOther                   Text `json:"living_standard_other"`
	ExteriorOfHouse                       Text `json:"exterior_of_house"`
	Remark                                Text `json:"remark"`
	Neighbour1Details                     Text `json:"neighbour_1_details"`
	Neighbour1Remark                      Text `json:"neighbour_1_remark"`
	Neighbour2Details                     Text `json:"neighbour_2_details"`
	Neighbour2Remark                      Text `json:"neighbour_2_remark"`

	Extra map[string]any `json:"-"`
}

// SelfEmployed holds business verification details for a self-employed
// applicant (the "self_employed" object).
type SelfEmployed struct {
	IDProofSeen                     Text `json:"id_proof_seen"`
	ApplicantIs                     Text `json:"applicant_is"`
	ApplicantIsOther                Text `json:"applicant_is_other"`
	NatureOfBusiness                Text `json:"nature_of_business"`
	NatureOfBusinessOther           Text `json:"nature_of_business_other"`
	OfficeOwnership                 Text `json:"office_ownership"`
	Stability                       Text `json:"stability"`
	StabilityOther                  Text `json:"stability_other"`
	Stocks                          Text `json:"stocks"`
	GSTBillVisitingCardSeen         Text `json:"gst_bill_visiting_card_seen"`
	BusinessActivityLevelSeen       Text `json:"business_activity_level_seen"`
	EmployeeSeen                    Text `json:"employee_seen"`
	ApplicantCurrentAccountWithBank Text `json:"applicant_current_account_with_bank"`
	ApplicantHasVehicle             Text `json:"applicant_has_vehicle"`
	ExteriorOffFloor                Text `json:"exterior_off_floor"`
	Remark                          Text `json:"remark"`

	Extra map[string]any `json:"-"`
}

// Service holds business verification details for a salaried applicant
// (the "service" object).
type Service struct {
	WorkingSince            Text `json:"working_since"`
	Designation             Text `json:"designation"`
	DepartmentRoomNumber    Text `json:"department_room_number"`
	EmployeeCode            Text `json:"employee_code"`
	CompanyNatureOfBusiness Text `json:"company_nature_of_business"`
	DrawingSalaryPerMonth   Text `json:"drawing_salary_per_month"`
	IDProofSeen             Text `json:"id_proof_seen"`
	EmployeeSeen            Text `json:"employee_seen"`
	ExteriorOffFloor        Text `json:"exterior_off_floor"`
	Remark                  Text `json:"remark"`

	Extra map[string]any `json:"-"`
}

// BusinessBasics are the top-level fields of the business wizard's first
// step. TypeOfBusiness selects between SelfEmployed and Service.
type BusinessBasics struct {
	MetPersonName  Text `json:"met_person_name"`
	Relation       Text `json:"relation"`
	TypeOfBusiness Text `json:"type_of_business"`
}

// Common are top-level fields shared by both wizards.
type Common struct {
	Neighbour1Details     Text `json:"neighbour_1_details"`
	Neighbour1Remark      Text `json:"neighbour_1_remark"`
	Neighbour2Details     Text `json:"neighbour_2_details"`
	Neighbour2Remark      Text `json:"neighbour_2_remark"`
	SignboardSeenWithName Text `json:"signboard_seen_with_name"`
	CaseStatus            Text `json:"case_status"`
	RejectionReason       Text `json:"rejection_reason"`
	RejectionReasonOther  Text `json:"rejection_reason_other"`
	AdditionalRemark      Text `json:"additional_remark"`
	PhotoSource           Text `json:"photo_source"`
}
