package hubspot

import (
	"strconv"
	"time"
)

// millis HubSpot 搜索使用毫秒时间戳
func millis(t time.Time) string {
	return strconv.FormatInt(t.UnixMilli(), 10)
}

// ModifiedBetween 修改时间区间过滤
func ModifiedBetween(property string, start, end time.Time) Filter {
	return Filter{
		PropertyName: property,
		Operator:     "BETWEEN",
		Value:        millis(start),
		HighValue:    millis(end),
	}
}

// ContactWindowSearch 时间窗口内的联系人，排除导入来源
func ContactWindowSearch(lastModified string, start, end time.Time, properties []string) SearchRequest {
	return SearchRequest{
		FilterGroups: []FilterGroup{{Filters: []Filter{
			ModifiedBetween(lastModified, start, end),
			{PropertyName: "hs_object_source", Operator: "NEQ", Value: "IMPORT"},
		}}},
		Properties: properties,
	}
}

// PropertyNames 属性名列表，skip 中的排除
func PropertyNames(props []Property, skip map[string]bool) []string {
	names := make([]string, 0, len(props))
	for _, p := range props {
		if skip[p.Name] {
			continue
		}
		names = append(names, p.Name)
	}
	return names
}

// ContactSkipProperties 会撑爆行宽或没有分析价值的联系人属性
var ContactSkipProperties = map[string]bool{
	"hs_user_ids_of_all_notification_followers":   true,
	"hs_user_ids_of_all_notification_unfollowers": true,
	"industry":                                    true,
	"instagram":                                   true,
	"ip_latlon":                                   true,
	"ip_zipcode":                                  true,
	"job_function":                                true,
	"linkedinbio":                                 true,
	"marital_status":                              true,
	"markets":                                     true,
	"military_status":                             true,
	"nick":                                        true,
	"numemployees":                                true,
	"owneremail":                                  true,
	"ownername":                                   true,
	"partner_tags":                                true,
	"phone_2":                                     true,
	"photo":                                       true,
	"preferred_period_to_study":                   true,
	"relationship_status":                         true,
	"salutation":                                  true,
	"school":                                      true,
	"seniority":                                   true,
	"student_id":                                  true,
	"tiktok":                                      true,
	"twitterbio":                                  true,
	"twitterhandle":                               true,
	"twitterprofilephoto":                         true,
	"website":                                     true,
	"work_email":                                  true,
	"hs_gps_error":                                true,
	"hs_gps_latitude":                             true,
	"hs_gps_longitude":                            true,
	"hs_inferred_language_codes":                  true,
	"hs_journey_stage":                            true,
	"hs_language":                                 true,
	"hs_linkedin_ad_clicked":                      true,
	"hs_linkedin_url":                             true,
	"hs_mobile_sdk_push_tokens":                   true,
	"hs_persona":                                  true,
	"hs_predictivecontactscorebucket":             true,
	"hs_predictivescoringtier":                    true,
	"hs_registration_method":                      true,
	"hs_shared_team_ids":                          true,
	"hs_shared_user_ids":                          true,
	"hs_state_code":                               true,
	"hs_sub_role":                                 true,
	"hs_testpurge":                                true,
	"hs_testrollback":                             true,
	"hs_unique_creation_key":                      true,
}
